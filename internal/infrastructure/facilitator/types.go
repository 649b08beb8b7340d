package facilitator

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// X402Version is the protocol version sent to the facilitator and in 402 challenges.
const X402Version = 2

// PaymentHeader carries the base64 encoded PaymentPayload on paywalled requests.
const PaymentHeader = "X-PAYMENT"

// PaymentResponseHeader carries the base64 encoded SettleResponse on paid responses.
const PaymentResponseHeader = "X-PAYMENT-RESPONSE"

var ErrMissingPayment = errors.New("X-PAYMENT header is required")

// Requirement describes the payment a resource accepts.
type Requirement struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	Asset             string         `json:"asset"`
	Amount            string         `json:"amount"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Resource          string         `json:"resource,omitempty"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// PaymentPayload is the signed authorization a client sends in the X-PAYMENT header.
type PaymentPayload struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme,omitempty"`
	Network     string         `json:"network,omitempty"`
	Accepted    *Requirement   `json:"accepted,omitempty"`
	Payload     map[string]any `json:"payload"`
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	X402Version int           `json:"x402Version"`
	Error       string        `json:"error,omitempty"`
	Accepts     []Requirement `json:"accepts"`
}

type VerifyRequest struct {
	X402Version         int            `json:"x402Version"`
	PaymentPayload      PaymentPayload `json:"paymentPayload"`
	PaymentRequirements Requirement    `json:"paymentRequirements"`
}

type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
}

// EncodeSettleResponse renders resp for the X-PAYMENT-RESPONSE header.
func EncodeSettleResponse(resp SettleResponse) (string, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// TransactionCheck names an on-chain transfer the caller claims to have made.
type TransactionCheck struct {
	TxHash  string
	Network string
	From    string
	To      string
	Token   string
	Amount  string
}

type TransactionInfo struct {
	Hash    string `json:"hash"`
	From    string `json:"from"`
	To      string `json:"to"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
	Network string `json:"network"`
}

// VerificationResult is the outcome of a transaction check. Raw holds the facilitator
// response body when one was received.
type VerificationResult struct {
	Verified    bool            `json:"verified"`
	Transaction TransactionInfo `json:"transaction"`
	Status      string          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// DecodePaymentHeader decodes the base64 JSON X-PAYMENT header value.
func DecodePaymentHeader(value string) (*PaymentPayload, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrMissingPayment
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode payment header: %w", err)
	}
	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payment payload: %w", err)
	}
	if payload.Payload == nil {
		return nil, errors.New("payment payload is empty")
	}
	return &payload, nil
}

// EncodePaymentHeader is the inverse of DecodePaymentHeader.
func EncodePaymentHeader(payload PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Identifier returns the value that identifies the payment on chain: an explicit
// transaction hash when present, otherwise the authorization nonce.
func (p *PaymentPayload) Identifier() string {
	for _, key := range []string{"transaction", "txHash"} {
		if v, ok := p.Payload[key].(string); ok && v != "" {
			return v
		}
	}
	return p.authorizationField("nonce")
}

// Payer returns the authorization's from address, if any.
func (p *PaymentPayload) Payer() string {
	return p.authorizationField("from")
}

func (p *PaymentPayload) authorizationField(key string) string {
	auth, ok := p.Payload["authorization"].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := auth[key].(string)
	return v
}
