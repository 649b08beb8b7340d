package handler

import (
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"shopify-x402/internal/infrastructure/facilitator"
	"shopify-x402/internal/logging"
	"shopify-x402/internal/monitoring"
)

type RouterConfig struct {
	ServiceName string
	CORSOrigins []string
	// ProxySecret signs app proxy requests. It is checked only when VerifyProxySignature is set.
	ProxySecret          string
	VerifyProxySignature bool
	// AdminSecret signs admin launch queries. Config writes require it when VerifyAdminHMAC is set.
	AdminSecret     string
	VerifyAdminHMAC bool
}

// NewRouter wires every route onto a gin engine.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMetricsMiddleware())
	r.Use(requestLogger())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/auth", h.BeginAuth)
		api.GET("/auth/callback", h.AuthCallback)
		api.GET("/config", h.GetConfig)
		if cfg.VerifyAdminHMAC {
			api.POST("/config", adminSignature(cfg.AdminSecret, time.Now), h.UpdateConfig)
		} else {
			api.POST("/config", h.UpdateConfig)
		}
		api.POST("/payment/request", h.RequestPayment)
		api.POST("/payment/verify", h.VerifyPayment)
		api.GET("/payments", h.ListPayments)
		api.GET("/payments/:id", h.GetPayment)
	}

	proxy := r.Group("/shopify-proxy")
	if cfg.VerifyProxySignature {
		proxy.Use(proxySignature(cfg.ProxySecret))
	}
	{
		proxy.GET("/config", h.GetConfig)
		proxy.GET("/products", h.ListProducts)
		proxy.GET("/products/:id", h.GetProduct)
		proxy.POST("/payment/request", h.RequestPayment)
		proxy.POST("/payment/verify", h.VerifyPayment)
		proxy.GET("/payments", h.ListPayments)
		proxy.GET("/payments/:id", h.GetPayment)
		proxy.POST("/checkout", h.Checkout)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", facilitator.PaymentHeader, ShopDomainHeader)
	cfg.ExposeHeaders = []string{facilitator.PaymentResponseHeader}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// httpMetricsMiddleware records HTTP request metrics
func httpMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := float64(time.Since(start).Milliseconds())
		monitoring.HTTPServerDuration.Record(c.Request.Context(), duration,
			metric.WithAttributes(
				attribute.String("http_method", c.Request.Method),
				attribute.String("http_route", c.FullPath()),
				attribute.String("http_status_code", strconv.Itoa(c.Writer.Status())),
			),
		)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logging.WithContext(c.Request.Context()).Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
