package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"shopify-x402/internal/domain"
	"shopify-x402/internal/logging"
	"shopify-x402/internal/monitoring"
)

// DefaultURL is the public x402 facilitator.
const DefaultURL = "https://x402.org/facilitator"

const defaultTimeout = 30 * time.Second

// Client verifies and settles payments with a remote facilitator. No method returns
// an error: failures to reach or understand the facilitator yield a negative result.
type Client interface {
	Verify(ctx context.Context, check TransactionCheck) *VerificationResult
	VerifyPayment(ctx context.Context, payload PaymentPayload, requirement Requirement) *VerifyResponse
	// Settle submits a verified authorization for execution on chain.
	Settle(ctx context.Context, payload PaymentPayload, requirement Requirement) *SettleResponse
}

type Config struct {
	// URL is the facilitator base URL; /verify is appended.
	URL string
	// Timeout bounds each request (defaults to 30s).
	Timeout time.Duration
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
}

type client struct {
	url        string
	httpClient *http.Client
}

func NewClient(cfg Config) Client {
	url := strings.TrimRight(cfg.URL, "/")
	if url == "" {
		url = DefaultURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		}
	}

	return &client{url: url, httpClient: httpClient}
}

// verifyBody is the union of the standard x402 verify response and the
// transaction-oriented fields some facilitators add.
type verifyBody struct {
	IsValid       *bool            `json:"isValid"`
	Verified      *bool            `json:"verified"`
	InvalidReason string           `json:"invalidReason"`
	Payer         string           `json:"payer"`
	Status        string           `json:"status"`
	Transaction   *TransactionInfo `json:"transaction"`
}

func (b *verifyBody) valid() bool {
	return (b.IsValid != nil && *b.IsValid) || (b.Verified != nil && *b.Verified)
}

func (c *client) Verify(ctx context.Context, check TransactionCheck) *VerificationResult {
	tx := TransactionInfo{
		Hash:    check.TxHash,
		From:    check.From,
		To:      check.To,
		Token:   check.Token,
		Amount:  check.Amount,
		Network: check.Network,
	}
	requirement := Requirement{
		Scheme:            schemeExact,
		Network:           check.Network,
		Asset:             check.Token,
		Amount:            check.Amount,
		PayTo:             check.To,
		MaxTimeoutSeconds: defaultMaxTimeoutSeconds,
	}
	payload := PaymentPayload{
		X402Version: X402Version,
		Accepted:    &requirement,
		Payload: map[string]any{
			"transaction": check.TxHash,
			"from":        check.From,
			"to":          check.To,
			"amount":      check.Amount,
		},
	}

	body := &verifyBody{}
	raw, err := c.post(ctx, "verify", payload, requirement, body)
	if err != nil {
		logging.WithContext(ctx).Warn("Facilitator verification failed, treating as not verified",
			zap.Error(err),
			zap.String("tx_hash", check.TxHash),
			zap.String("network", check.Network),
		)
		return &VerificationResult{
			Verified:    false,
			Transaction: tx,
			Status:      domain.FacilitatorFailed,
			Reason:      err.Error(),
		}
	}

	result := &VerificationResult{
		Verified:    body.valid(),
		Transaction: tx,
		Status:      body.Status,
		Reason:      body.InvalidReason,
		Raw:         raw,
	}
	if body.Transaction != nil {
		result.Transaction = *body.Transaction
	}
	if result.Status == "" {
		result.Status = domain.FacilitatorFailed
		if result.Verified {
			result.Status = domain.FacilitatorVerified
		}
	}
	return result
}

func (c *client) VerifyPayment(ctx context.Context, payload PaymentPayload, requirement Requirement) *VerifyResponse {
	if payload.X402Version == 0 {
		payload.X402Version = X402Version
	}
	if payload.Accepted == nil {
		payload.Accepted = &requirement
	}

	body := &verifyBody{}
	if _, err := c.post(ctx, "verify", payload, requirement, body); err != nil {
		logging.WithContext(ctx).Warn("Facilitator payment verification failed", zap.Error(err))
		return &VerifyResponse{IsValid: false, InvalidReason: err.Error(), Payer: payload.Payer()}
	}

	payer := body.Payer
	if payer == "" {
		payer = payload.Payer()
	}
	return &VerifyResponse{IsValid: body.valid(), InvalidReason: body.InvalidReason, Payer: payer}
}

func (c *client) Settle(ctx context.Context, payload PaymentPayload, requirement Requirement) *SettleResponse {
	if payload.X402Version == 0 {
		payload.X402Version = X402Version
	}
	if payload.Accepted == nil {
		payload.Accepted = &requirement
	}

	resp := &SettleResponse{}
	if _, err := c.post(ctx, "settle", payload, requirement, resp); err != nil {
		logging.WithContext(ctx).Warn("Facilitator settlement failed", zap.Error(err))
		return &SettleResponse{
			Success:     false,
			ErrorReason: err.Error(),
			Payer:       payload.Payer(),
			Network:     requirement.Network,
		}
	}

	if resp.Payer == "" {
		resp.Payer = payload.Payer()
	}
	if resp.Network == "" {
		resp.Network = requirement.Network
	}
	if !resp.Success && resp.ErrorReason == "" {
		resp.ErrorReason = "settlement rejected by facilitator"
	}
	return resp
}

// post sends payload and requirement to {url}/{operation} and decodes a 2xx reply into out.
func (c *client) post(ctx context.Context, operation string, payload PaymentPayload, requirement Requirement, out any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := c.do(ctx, operation, payload, requirement, out)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	monitoring.FacilitatorDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("network", requirement.Network),
			attribute.String("outcome", outcome),
		),
	)
	return raw, err
}

func (c *client) do(ctx context.Context, operation string, payload PaymentPayload, requirement Requirement, out any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(VerifyRequest{
		X402Version:         X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/"+operation, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("facilitator %s failed (%d): %s", operation, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return raw, nil
}
