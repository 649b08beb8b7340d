package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"shopify-x402/internal/domain"
	"shopify-x402/internal/service"
)

// amountField accepts either a JSON string or a JSON number.
type amountField string

func (a *amountField) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountField(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*a = amountField(n.String())
	return nil
}

type paymentRequestBody struct {
	Shop         string      `json:"shop"`
	ProductID    string      `json:"productId"`
	ProductTitle string      `json:"productTitle"`
	Amount       amountField `json:"amount"`
}

type verifyBody struct {
	Shop         string      `json:"shop"`
	TxHash       string      `json:"txHash"`
	FromAddress  string      `json:"fromAddress"`
	Amount       amountField `json:"amount"`
	ProductID    string      `json:"productId"`
	ProductTitle string      `json:"productTitle"`
}

type paymentResponse struct {
	ID                uuid.UUID            `json:"id"`
	ProductID         string               `json:"productId"`
	ProductTitle      string               `json:"productTitle"`
	Amount            string               `json:"amount"`
	TxHash            string               `json:"txHash"`
	FromAddress       string               `json:"fromAddress"`
	ToAddress         string               `json:"toAddress"`
	TokenAddress      string               `json:"tokenAddress"`
	Network           string               `json:"network"`
	FacilitatorStatus string               `json:"facilitatorStatus"`
	VerificationData  json.RawMessage      `json:"verificationData,omitempty"`
	Status            domain.PaymentStatus `json:"status"`
	CreatedAt         time.Time            `json:"createdAt"`
}

func newPaymentResponse(p domain.Payment) paymentResponse {
	return paymentResponse{
		ID:                p.ID,
		ProductID:         p.ProductID,
		ProductTitle:      p.ProductTitle,
		Amount:            p.Amount.String(),
		TxHash:            p.TxHash,
		FromAddress:       p.FromAddress,
		ToAddress:         p.ToAddress,
		TokenAddress:      p.TokenAddress,
		Network:           p.Network,
		FacilitatorStatus: p.FacilitatorStatus,
		VerificationData:  p.VerificationData,
		Status:            p.Status,
		CreatedAt:         p.CreatedAt,
	}
}

// RequestPayment returns the x402 payment request a wallet needs to pay the shop.
func (h *Handler) RequestPayment(c *gin.Context) {
	var req paymentRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	meta, err := h.checkout.RequestPayment(c.Request.Context(), service.PaymentRequestInput{
		Shop:         resolveShop(c, req.Shop),
		ProductID:    req.ProductID,
		ProductTitle: req.ProductTitle,
		Amount:       string(req.Amount),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// VerifyPayment checks a submitted transaction, records it and creates the order.
func (h *Handler) VerifyPayment(c *gin.Context) {
	var req verifyBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	outcome, err := h.checkout.VerifyPayment(c.Request.Context(), service.VerifyInput{
		Shop:         resolveShop(c, req.Shop),
		TxHash:       req.TxHash,
		FromAddress:  req.FromAddress,
		Amount:       string(req.Amount),
		ProductID:    req.ProductID,
		ProductTitle: req.ProductTitle,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *Handler) GetPayment(c *gin.Context) {
	payment, err := h.checkout.GetPayment(c.Request.Context(), resolveShop(c, ""), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": newPaymentResponse(*payment)})
}

func (h *Handler) ListPayments(c *gin.Context) {
	payments, err := h.checkout.ListPayments(c.Request.Context(), resolveShop(c, ""))
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, newPaymentResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}
