package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"shopify-x402/internal/infrastructure/facilitator"
	"shopify-x402/internal/infrastructure/shopify"
	"shopify-x402/internal/service"
)

type checkoutBody struct {
	Shop            string `json:"shop"`
	ProductID       string `json:"productId"`
	CustomerAddress string `json:"customerAddress"`
}

func (h *Handler) ListProducts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	products, err := h.checkout.ListProducts(c.Request.Context(), resolveShop(c, ""), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) GetProduct(c *gin.Context) {
	product, err := h.checkout.GetProduct(c.Request.Context(), resolveShop(c, ""), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product})
}

// Checkout is the paywalled purchase endpoint. Without a valid X-PAYMENT header it
// answers 402 with the requirement the payment must satisfy. A settled payment is
// echoed back in X-PAYMENT-RESPONSE, also when the order could not be created.
func (h *Handler) Checkout(c *gin.Context) {
	var req checkoutBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody(err.Error()))
			return
		}
	}
	if req.ProductID == "" {
		req.ProductID = c.Query("productId")
	}

	outcome, err := h.checkout.Checkout(c.Request.Context(), service.CheckoutInput{
		Shop:            resolveShop(c, req.Shop),
		ProductID:       req.ProductID,
		PaymentHeader:   c.GetHeader(facilitator.PaymentHeader),
		Resource:        h.opts.Host + c.Request.URL.Path,
		CustomerAddress: req.CustomerAddress,
	})
	if outcome != nil && outcome.Settlement != nil {
		if header, encErr := facilitator.EncodeSettleResponse(*outcome.Settlement); encErr == nil {
			c.Header(facilitator.PaymentResponseHeader, header)
		}
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// proxySignature rejects app proxy requests whose signature does not match secret.
func proxySignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !shopify.VerifyProxySignature(c.Request.URL.Query(), secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid proxy signature"))
			return
		}
		c.Next()
	}
}
