package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shopify-x402/internal/database"
	"shopify-x402/internal/domain"
	"shopify-x402/internal/infrastructure/facilitator"
	"shopify-x402/internal/infrastructure/shopify"
	"shopify-x402/internal/logging"
	"shopify-x402/internal/service"
)

// ShopDomainHeader is set by Shopify on app proxy and admin requests.
const ShopDomainHeader = "X-Shopify-Shop-Domain"

// Authorizer is the OAuth surface the install handlers need.
type Authorizer interface {
	AuthorizeURL(shop, state string) string
	Exchange(ctx context.Context, shop, code string) (accessToken, scope string, err error)
	VerifyCallback(query url.Values) bool
}

type Options struct {
	// Host is the public base URL of this app, used for x402 resource URLs.
	Host string
	// APIKey identifies the app in the post-install redirect.
	APIKey string
}

// Handler serves the merchant API, the storefront proxy and the OAuth install flow.
type Handler struct {
	shops    service.ShopService
	checkout service.CheckoutService
	oauth    Authorizer
	db       database.Service
	opts     Options
}

func New(shops service.ShopService, checkout service.CheckoutService, oauth Authorizer, db database.Service, opts Options) *Handler {
	opts.Host = strings.TrimRight(opts.Host, "/")
	return &Handler{
		shops:    shops,
		checkout: checkout,
		oauth:    oauth,
		db:       db,
		opts:     opts,
	}
}

// resolveShop picks the shop domain from the JSON body, the shop query parameter,
// or the Shopify shop header, in that order.
func resolveShop(c *gin.Context, fromBody string) string {
	shop := fromBody
	if shop == "" {
		shop = c.Query("shop")
	}
	if shop == "" {
		shop = c.GetHeader(ShopDomainHeader)
	}
	return strings.ToLower(strings.TrimSpace(shop))
}

func errorBody(msg string) gin.H {
	return gin.H{"error": msg}
}

// writeError maps service errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	var (
		paymentRequired *service.PaymentRequiredError
		orderFailed     *service.OrderFailedError
		apiErr          *shopify.APIError
	)

	switch {
	case errors.As(err, &paymentRequired):
		body := gin.H{
			"x402Version": facilitator.X402Version,
			"error":       paymentRequired.Reason,
			"accepts":     []facilitator.Requirement{paymentRequired.Requirement},
		}
		if paymentRequired.PaymentID != nil {
			body["paymentId"] = paymentRequired.PaymentID
		}
		c.JSON(http.StatusPaymentRequired, body)
	case errors.As(err, &orderFailed):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     orderFailed.Err.Error(),
			"paymentId": orderFailed.PaymentID,
		})
	case errors.Is(err, domain.ErrMissingField),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrPaymentsDisabled),
		errors.Is(err, domain.ErrIncompleteConfig),
		errors.Is(err, facilitator.ErrUnsupportedAsset):
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, domain.ErrShopNotFound),
		errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, shopify.ErrProductNotFound):
		c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, domain.ErrDuplicateTransaction):
		c.JSON(http.StatusConflict, errorBody(err.Error()))
	case errors.As(err, &apiErr), errors.Is(err, shopify.ErrUnavailable):
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	default:
		logging.WithContext(c.Request.Context()).Error("Request failed",
			zap.Error(err),
			zap.String("path", c.FullPath()),
		)
		c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
	}
}

// HealthCheck reports database connectivity.
func (h *Handler) HealthCheck(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}
	stats := h.db.Health(c.Request.Context())
	if stats["status"] != "up" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": stats})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": stats})
}
