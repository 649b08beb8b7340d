// Package testutil holds in-memory doubles for the repositories and remote clients.
package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"shopify-x402/internal/domain"
	"shopify-x402/internal/infrastructure/facilitator"
	"shopify-x402/internal/infrastructure/shopify"
)

type ShopRepo struct {
	mu    sync.Mutex
	shops map[string]*domain.Shop
}

func NewShopRepo(shops ...*domain.Shop) *ShopRepo {
	r := &ShopRepo{shops: map[string]*domain.Shop{}}
	for _, s := range shops {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		r.shops[s.ShopDomain] = s
	}
	return r
}

func (r *ShopRepo) FindByDomain(_ context.Context, shopDomain string) (*domain.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shops[shopDomain]
	if !ok {
		return nil, domain.ErrShopNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *ShopRepo) Upsert(_ context.Context, shopDomain, accessToken, scope string) (*domain.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shops[shopDomain]
	if !ok {
		s = &domain.Shop{ID: uuid.New(), ShopDomain: shopDomain}
		r.shops[shopDomain] = s
	}
	s.AccessToken = accessToken
	s.Scope = scope
	cp := *s
	return &cp, nil
}

func (r *ShopRepo) Update(_ context.Context, shopDomain string, u domain.ShopUpdate) (*domain.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shops[shopDomain]
	if !ok {
		return nil, domain.ErrShopNotFound
	}
	if u.WalletAddress != nil {
		s.WalletAddress = *u.WalletAddress
	}
	if u.AcceptedToken != nil {
		s.AcceptedToken = *u.AcceptedToken
	}
	if u.AcceptedNetwork != nil {
		s.AcceptedNetwork = *u.AcceptedNetwork
	}
	if u.IsX402Enabled != nil {
		s.IsX402Enabled = *u.IsX402Enabled
	}
	cp := *s
	return &cp, nil
}

type PaymentRepo struct {
	mu       sync.Mutex
	payments []domain.Payment
}

func (r *PaymentRepo) CreatePayment(_ context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.TxHash == p.TxHash {
			return domain.ErrDuplicateTransaction
		}
	}
	r.payments = append(r.payments, *p)
	return nil
}

func (r *PaymentRepo) FindById(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *PaymentRepo) FindByShop(_ context.Context, shopID uuid.UUID, limit int) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Payment{}
	for _, p := range r.payments {
		if p.ShopID == shopID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored payments.
func (r *PaymentRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

type Facilitator struct {
	Verified    bool
	Reason      string
	Checks      []facilitator.TransactionCheck
	VerifyCalls int

	// SettleReason, when set, makes every settlement fail with it.
	SettleReason string
	SettleCalls  int
}

func (f *Facilitator) Verify(_ context.Context, check facilitator.TransactionCheck) *facilitator.VerificationResult {
	f.Checks = append(f.Checks, check)
	f.VerifyCalls++
	status := domain.FacilitatorFailed
	if f.Verified {
		status = domain.FacilitatorVerified
	}
	return &facilitator.VerificationResult{
		Verified: f.Verified,
		Status:   status,
		Reason:   f.Reason,
		Transaction: facilitator.TransactionInfo{
			Hash:    check.TxHash,
			From:    check.From,
			To:      check.To,
			Token:   check.Token,
			Amount:  check.Amount,
			Network: check.Network,
		},
	}
}

func (f *Facilitator) VerifyPayment(_ context.Context, payload facilitator.PaymentPayload, _ facilitator.Requirement) *facilitator.VerifyResponse {
	f.VerifyCalls++
	return &facilitator.VerifyResponse{IsValid: f.Verified, InvalidReason: f.Reason, Payer: payload.Payer()}
}

func (f *Facilitator) Settle(_ context.Context, payload facilitator.PaymentPayload, requirement facilitator.Requirement) *facilitator.SettleResponse {
	f.SettleCalls++
	if f.SettleReason != "" {
		return &facilitator.SettleResponse{ErrorReason: f.SettleReason, Payer: payload.Payer(), Network: requirement.Network}
	}
	return &facilitator.SettleResponse{
		Success:     true,
		Transaction: "0xsettled-" + payload.Identifier(),
		Payer:       payload.Payer(),
		Network:     requirement.Network,
	}
}

type Orders struct {
	Err error
	// LookupErr fails product listing and lookup.
	LookupErr error
	Orders   []shopify.OrderInput
	Products map[string]shopify.ProductSummary
}

func (f *Orders) CreateOrder(_ context.Context, _ *domain.Shop, input shopify.OrderInput) (*shopify.OrderReceipt, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.Orders = append(f.Orders, input)
	return &shopify.OrderReceipt{ID: int64(1000 + len(f.Orders)), Name: "#1001", FinancialStatus: "paid"}, nil
}

func (f *Orders) ListProducts(_ context.Context, _ *domain.Shop, limit int) ([]shopify.ProductSummary, error) {
	if f.LookupErr != nil {
		return nil, f.LookupErr
	}
	out := []shopify.ProductSummary{}
	for _, p := range f.Products {
		out = append(out, p)
	}
	return out, nil
}

func (f *Orders) GetProduct(_ context.Context, _ *domain.Shop, productID string) (*shopify.ProductSummary, error) {
	if f.LookupErr != nil {
		return nil, f.LookupErr
	}
	p, ok := f.Products[productID]
	if !ok {
		return nil, shopify.ErrProductNotFound
	}
	return &p, nil
}
