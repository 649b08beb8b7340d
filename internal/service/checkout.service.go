package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"shopify-x402/internal/domain"
	"shopify-x402/internal/infrastructure/facilitator"
	"shopify-x402/internal/infrastructure/shopify"
	"shopify-x402/internal/logging"
	"shopify-x402/internal/monitoring"
	"shopify-x402/internal/repo"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const recentPaymentsLimit = 50

// PaymentRequiredError means the caller must (re)submit an X-PAYMENT header that
// satisfies Requirement.
type PaymentRequiredError struct {
	Requirement facilitator.Requirement
	Reason      string
	PaymentID   *uuid.UUID
}

func (e *PaymentRequiredError) Error() string {
	return "payment required: " + e.Reason
}

// OrderFailedError reports a Shopify order failure after the payment was recorded.
// The payment record keeps its completed status.
type OrderFailedError struct {
	PaymentID uuid.UUID
	Err       error
}

func (e *OrderFailedError) Error() string {
	return fmt.Sprintf("order creation failed for payment %s: %v", e.PaymentID, e.Err)
}

func (e *OrderFailedError) Unwrap() error {
	return e.Err
}

type PaymentRequestInput struct {
	Shop         string
	ProductID    string
	ProductTitle string
	Amount       string
}

type PaymentRequestMetadata struct {
	Protocol  string          `json:"protocol"`
	Version   string          `json:"version"`
	Recipient string          `json:"recipient"`
	Token     string          `json:"token"`
	Amount    string          `json:"amount"`
	Network   string          `json:"network"`
	Metadata  PaymentMetadata `json:"metadata"`
}

type PaymentMetadata struct {
	ProductID    string `json:"productId"`
	ProductTitle string `json:"productTitle"`
	Timestamp    int64  `json:"timestamp"`
}

type VerifyInput struct {
	Shop         string
	TxHash       string
	FromAddress  string
	Amount       string
	ProductID    string
	ProductTitle string
}

type VerifyOutcome struct {
	Verified    bool                        `json:"verified"`
	PaymentID   uuid.UUID                   `json:"paymentId"`
	Status      domain.PaymentStatus        `json:"status"`
	Transaction facilitator.TransactionInfo `json:"transaction"`
	Order       *shopify.OrderReceipt       `json:"order,omitempty"`
}

type CheckoutInput struct {
	Shop            string
	ProductID       string
	PaymentHeader   string
	Resource        string
	CustomerAddress string
}

type CheckoutOutcome struct {
	Verified    bool                    `json:"verified"`
	PaymentID   uuid.UUID               `json:"paymentId"`
	Status      domain.PaymentStatus    `json:"status"`
	Payer       string                  `json:"payer"`
	Transaction string                  `json:"transaction"`
	Product     *shopify.ProductSummary `json:"product"`
	Order       *shopify.OrderReceipt   `json:"order,omitempty"`
	// Settlement is echoed to the client in the X-PAYMENT-RESPONSE header.
	Settlement *facilitator.SettleResponse `json:"-"`
}

// checkoutEvidence is stored as the verification data of a paywalled payment.
type checkoutEvidence struct {
	Verify *facilitator.VerifyResponse `json:"verify"`
	Settle *facilitator.SettleResponse `json:"settle,omitempty"`
}

type CheckoutService interface {
	RequestPayment(ctx context.Context, input PaymentRequestInput) (*PaymentRequestMetadata, error)
	VerifyPayment(ctx context.Context, input VerifyInput) (*VerifyOutcome, error)
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutOutcome, error)
	ListPayments(ctx context.Context, shopDomain string) ([]domain.Payment, error)
	GetPayment(ctx context.Context, shopDomain, paymentID string) (*domain.Payment, error)
	ListProducts(ctx context.Context, shopDomain string, limit int) ([]shopify.ProductSummary, error)
	GetProduct(ctx context.Context, shopDomain, productID string) (*shopify.ProductSummary, error)
}

type checkoutService struct {
	shopRepo    repo.ShopRepo
	paymentRepo repo.PaymentRepo
	facilitator facilitator.Client
	orders      shopify.Client
	now         func() time.Time
}

func NewCheckoutService(
	shopRepo repo.ShopRepo,
	paymentRepo repo.PaymentRepo,
	facilitatorClient facilitator.Client,
	orders shopify.Client,
) CheckoutService {
	return &checkoutService{
		shopRepo:    shopRepo,
		paymentRepo: paymentRepo,
		facilitator: facilitatorClient,
		orders:      orders,
		now:         time.Now,
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, raw)
	}
	return amount, nil
}

// acceptingShop resolves a shop that is enabled and fully configured.
func (s *checkoutService) acceptingShop(ctx context.Context, shopDomain string) (*domain.Shop, error) {
	shop, err := s.shopRepo.FindByDomain(ctx, shopDomain)
	if err != nil {
		return nil, err
	}
	if err := shop.CheckAccepting(); err != nil {
		return nil, err
	}
	return shop, nil
}

func (s *checkoutService) RequestPayment(ctx context.Context, input PaymentRequestInput) (*PaymentRequestMetadata, error) {
	if input.Shop == "" {
		return nil, missing("shop")
	}
	if input.Amount == "" {
		return nil, missing("amount")
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		return nil, err
	}

	shop, err := s.acceptingShop(ctx, input.Shop)
	if err != nil {
		return nil, err
	}

	return &PaymentRequestMetadata{
		Protocol:  "x402",
		Version:   "2.0",
		Recipient: shop.WalletAddress,
		Token:     shop.AcceptedToken,
		Amount:    amount.String(),
		Network:   shop.AcceptedNetwork,
		Metadata: PaymentMetadata{
			ProductID:    input.ProductID,
			ProductTitle: input.ProductTitle,
			Timestamp:    s.now().UnixMilli(),
		},
	}, nil
}

func (s *checkoutService) VerifyPayment(ctx context.Context, input VerifyInput) (*VerifyOutcome, error) {
	required := []struct{ field, value string }{
		{"shop", input.Shop},
		{"txHash", input.TxHash},
		{"fromAddress", input.FromAddress},
		{"amount", input.Amount},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, missing(r.field)
		}
	}
	amount, err := parseAmount(input.Amount)
	if err != nil {
		return nil, err
	}

	shop, err := s.acceptingShop(ctx, input.Shop)
	if err != nil {
		return nil, err
	}

	result := s.facilitator.Verify(ctx, facilitator.TransactionCheck{
		TxHash:  input.TxHash,
		Network: shop.AcceptedNetwork,
		From:    input.FromAddress,
		To:      shop.WalletAddress,
		Token:   shop.AcceptedToken,
		Amount:  amount.String(),
	})

	payment := s.newPayment(shop, result.Verified, result)
	payment.ProductID = input.ProductID
	payment.ProductTitle = input.ProductTitle
	payment.Amount = amount
	payment.TxHash = input.TxHash
	payment.FromAddress = input.FromAddress
	payment.TokenAddress = shop.AcceptedToken

	if err := s.record(ctx, payment); err != nil {
		return nil, err
	}

	outcome := &VerifyOutcome{
		Verified:    result.Verified,
		PaymentID:   payment.ID,
		Status:      payment.Status,
		Transaction: result.Transaction,
	}
	if !result.Verified || input.ProductID == "" {
		return outcome, nil
	}

	order, err := s.createOrder(ctx, shop, payment, amount.String(), input.FromAddress)
	if err != nil {
		return outcome, err
	}
	outcome.Order = order
	return outcome, nil
}

func (s *checkoutService) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutOutcome, error) {
	if input.Shop == "" {
		return nil, missing("shop")
	}
	if input.ProductID == "" {
		return nil, missing("productId")
	}

	shop, err := s.acceptingShop(ctx, input.Shop)
	if err != nil {
		return nil, err
	}

	product, err := s.orders.GetProduct(ctx, shop, input.ProductID)
	if err != nil {
		return nil, err
	}
	price, err := parseAmount(product.Price)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", input.ProductID, err)
	}

	requirement, err := facilitator.BuildRequirement(shop, price, product.Title, input.Resource)
	if err != nil {
		return nil, err
	}

	payload, err := facilitator.DecodePaymentHeader(input.PaymentHeader)
	if err != nil {
		return nil, &PaymentRequiredError{Requirement: requirement, Reason: err.Error()}
	}
	identifier := payload.Identifier()
	if identifier == "" {
		return nil, &PaymentRequiredError{Requirement: requirement, Reason: "payment payload has no transaction identifier"}
	}

	resp := s.facilitator.VerifyPayment(ctx, *payload, requirement)
	evidence := checkoutEvidence{Verify: resp}
	reason := resp.InvalidReason
	payer := resp.Payer

	if resp.IsValid {
		settlement := s.facilitator.Settle(ctx, *payload, requirement)
		evidence.Settle = settlement
		reason = settlement.ErrorReason
		if settlement.Payer != "" {
			payer = settlement.Payer
		}
	}
	paid := evidence.Settle != nil && evidence.Settle.Success

	payment := s.newPayment(shop, paid, evidence)
	payment.ProductID = input.ProductID
	payment.ProductTitle = product.Title
	payment.Amount = price
	payment.TxHash = identifier
	if paid && evidence.Settle.Transaction != "" {
		payment.TxHash = evidence.Settle.Transaction
	}
	payment.FromAddress = payer
	payment.TokenAddress = requirement.Asset

	if err := s.record(ctx, payment); err != nil {
		return nil, err
	}
	if !paid {
		return nil, &PaymentRequiredError{Requirement: requirement, Reason: reason, PaymentID: &payment.ID}
	}

	outcome := &CheckoutOutcome{
		Verified:    true,
		PaymentID:   payment.ID,
		Status:      payment.Status,
		Payer:       payer,
		Transaction: evidence.Settle.Transaction,
		Product:     product,
		Settlement:  evidence.Settle,
	}

	customer := input.CustomerAddress
	if customer == "" {
		customer = payer
	}
	order, err := s.createOrder(ctx, shop, payment, price.String(), customer)
	if err != nil {
		return outcome, err
	}
	outcome.Order = order
	return outcome, nil
}

// newPayment prepares a record whose status reflects the verification outcome.
func (s *checkoutService) newPayment(shop *domain.Shop, verified bool, evidence any) *domain.Payment {
	now := s.now()
	payment := &domain.Payment{
		ID:                uuid.New(),
		ShopID:            shop.ID,
		ToAddress:         shop.WalletAddress,
		Network:           shop.AcceptedNetwork,
		Status:            domain.PaymentFailed,
		FacilitatorStatus: domain.FacilitatorFailed,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if verified {
		payment.Status = domain.PaymentCompleted
		payment.FacilitatorStatus = domain.FacilitatorVerified
	}
	if raw, err := json.Marshal(evidence); err == nil {
		payment.VerificationData = raw
	}
	return payment
}

func (s *checkoutService) record(ctx context.Context, payment *domain.Payment) error {
	if err := s.paymentRepo.CreatePayment(ctx, payment); err != nil {
		if !errors.Is(err, domain.ErrDuplicateTransaction) {
			err = fmt.Errorf("record payment: %w", err)
		}
		return err
	}

	monitoring.PaymentCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("network", payment.Network),
			attribute.String("status", string(payment.Status)),
		),
	)
	logging.WithContext(ctx).Info("Payment recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("tx_hash", payment.TxHash),
		zap.String("status", string(payment.Status)),
	)
	return nil
}

func (s *checkoutService) createOrder(ctx context.Context, shop *domain.Shop, payment *domain.Payment, price, customer string) (*shopify.OrderReceipt, error) {
	order, err := s.orders.CreateOrder(ctx, shop, shopify.OrderInput{
		ProductID:       payment.ProductID,
		ProductTitle:    payment.ProductTitle,
		ProductPrice:    price,
		CustomerAddress: customer,
		TxHash:          payment.TxHash,
		PaymentAmount:   payment.Amount.String(),
	})

	result := "created"
	if err != nil {
		result = "failed"
	}
	monitoring.ShopifyOrderCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))

	if err != nil {
		logging.WithContext(ctx).Error("Shopify order creation failed after payment was recorded",
			zap.Error(err),
			zap.String("payment_id", payment.ID.String()),
			zap.String("shop", shop.ShopDomain),
		)
		return nil, &OrderFailedError{PaymentID: payment.ID, Err: err}
	}
	return order, nil
}

func (s *checkoutService) ListPayments(ctx context.Context, shopDomain string) ([]domain.Payment, error) {
	if shopDomain == "" {
		return nil, missing("shop")
	}
	shop, err := s.shopRepo.FindByDomain(ctx, shopDomain)
	if err != nil {
		return nil, err
	}
	return s.paymentRepo.FindByShop(ctx, shop.ID, recentPaymentsLimit)
}

// GetPayment returns one payment of the shop. Payments of other shops are reported
// as not found.
func (s *checkoutService) GetPayment(ctx context.Context, shopDomain, paymentID string) (*domain.Payment, error) {
	if shopDomain == "" {
		return nil, missing("shop")
	}
	id, err := uuid.Parse(paymentID)
	if err != nil {
		return nil, fmt.Errorf("payment %q: %w", paymentID, domain.ErrPaymentNotFound)
	}
	shop, err := s.shopRepo.FindByDomain(ctx, shopDomain)
	if err != nil {
		return nil, err
	}
	payment, err := s.paymentRepo.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.ShopID != shop.ID {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *checkoutService) ListProducts(ctx context.Context, shopDomain string, limit int) ([]shopify.ProductSummary, error) {
	if shopDomain == "" {
		return nil, missing("shop")
	}
	shop, err := s.shopRepo.FindByDomain(ctx, shopDomain)
	if err != nil {
		return nil, err
	}
	return s.orders.ListProducts(ctx, shop, limit)
}

func (s *checkoutService) GetProduct(ctx context.Context, shopDomain, productID string) (*shopify.ProductSummary, error) {
	if shopDomain == "" {
		return nil, missing("shop")
	}
	shop, err := s.shopRepo.FindByDomain(ctx, shopDomain)
	if err != nil {
		return nil, err
	}
	return s.orders.GetProduct(ctx, shop, productID)
}
