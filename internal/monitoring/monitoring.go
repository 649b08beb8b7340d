package monitoring

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"shopify-x402/internal/logging"
)

const instrumentationName = "shopify-x402"

// Instruments are created against the global meter provider, which forwards to the
// provider installed by InitMeter.
var (
	meter = otel.Meter(instrumentationName)

	PaymentCounter, _ = meter.Int64Counter(
		"x402_payments_recorded_total",
		metric.WithDescription("Payment records written, by status"),
	)
	FacilitatorDuration, _ = meter.Float64Histogram(
		"x402_facilitator_request_duration_seconds",
		metric.WithDescription("Duration of facilitator verify and settle calls"),
		metric.WithUnit("s"),
	)
	ShopifyOrderCounter, _ = meter.Int64Counter(
		"shopify_orders_created_total",
		metric.WithDescription("Shopify order creation attempts, by result"),
	)
	HTTPServerDuration, _ = meter.Float64Histogram(
		"http_server_duration_milliseconds",
		metric.WithDescription("HTTP server request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
)

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
}

// InitTracer installs an OTLP gRPC tracer provider. It returns nil when no endpoint is set.
func InitTracer(ctx context.Context, serviceName, endpoint string) (*sdktrace.TracerProvider, error) {
	if endpoint == "" {
		logging.Info("Tracing disabled, no OTLP endpoint configured")
		return nil, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logging.Info("Tracing initialized", zap.String("endpoint", endpoint))
	return tp, nil
}

// InitMeter installs a meter provider backed by the Prometheus exporter. The
// exporter registers with the default Prometheus registry served on /metrics.
func InitMeter(ctx context.Context, serviceName string) (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logging.Info("Metrics initialized with Prometheus exporter")
	return mp, nil
}
