package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"shopify-x402/internal/infrastructure/shopify"
)

const (
	signedShopKey = "signedShop"
	// adminSignatureMaxAge bounds how long a signed admin query stays usable.
	adminSignatureMaxAge = 24 * time.Hour
)

// adminSignature accepts requests carrying the hmac Shopify adds to embedded admin
// launches. The signed shop is kept so the handler can refuse writes to other shops.
func adminSignature(secret string, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Request.URL.Query()
		shop := strings.ToLower(strings.TrimSpace(query.Get("shop")))
		if shop == "" || !shopify.VerifyHMAC(query, secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid admin signature"))
			return
		}

		ts, err := strconv.ParseInt(query.Get("timestamp"), 10, 64)
		if err != nil || now().Sub(time.Unix(ts, 0)) > adminSignatureMaxAge {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("admin signature expired"))
			return
		}

		c.Set(signedShopKey, shop)
		c.Next()
	}
}

// signedShopMismatch reports whether a signed request targets a shop other than the signed one.
func signedShopMismatch(c *gin.Context, shop string) bool {
	signed := c.GetString(signedShopKey)
	return signed != "" && signed != shop
}
