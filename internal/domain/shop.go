package domain

import (
	"time"

	"github.com/google/uuid"
)

type Shop struct {
	ID              uuid.UUID
	ShopDomain      string
	AccessToken     string
	Scope           string
	WalletAddress   string
	AcceptedToken   string
	AcceptedNetwork string
	IsX402Enabled   bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentReady reports whether the shop has wallet, token and network configured.
func (s *Shop) PaymentReady() bool {
	return s.WalletAddress != "" && s.AcceptedToken != "" && s.AcceptedNetwork != ""
}

// CheckAccepting returns nil when the shop can take x402 payments.
func (s *Shop) CheckAccepting() error {
	if !s.IsX402Enabled {
		return ErrPaymentsDisabled
	}
	if !s.PaymentReady() {
		return ErrIncompleteConfig
	}
	return nil
}

// ShopUpdate carries the merchant-editable payment fields. Nil fields are left untouched.
type ShopUpdate struct {
	WalletAddress   *string
	AcceptedToken   *string
	AcceptedNetwork *string
	IsX402Enabled   *bool
}
