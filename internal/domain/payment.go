package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentVerified  PaymentStatus = "verified"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCompleted PaymentStatus = "completed"
)

const (
	FacilitatorVerified = "verified"
	FacilitatorFailed   = "failed"
)

type Payment struct {
	ID                uuid.UUID
	ShopID            uuid.UUID
	ProductID         string
	ProductTitle      string
	Amount            decimal.Decimal
	TxHash            string
	FromAddress       string
	ToAddress         string
	TokenAddress      string
	Network           string
	FacilitatorStatus string
	VerificationData  json.RawMessage
	Status            PaymentStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
