package domain

import "errors"

var (
	ErrMissingField         = errors.New("missing required field")
	ErrShopNotFound         = errors.New("shop not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentsDisabled     = errors.New("x402 payments are disabled for this shop")
	ErrIncompleteConfig     = errors.New("shop payment configuration is incomplete")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrDuplicateTransaction = errors.New("transaction already recorded")
)
