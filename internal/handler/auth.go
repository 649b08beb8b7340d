package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shopify-x402/internal/infrastructure/shopify"
	"shopify-x402/internal/logging"
)

const stateCookie = "x402_oauth_state"

// BeginAuth redirects the merchant to Shopify to approve the install.
func (h *Handler) BeginAuth(c *gin.Context) {
	shop := resolveShop(c, "")
	if shop == "" {
		c.JSON(http.StatusBadRequest, errorBody("missing shop parameter"))
		return
	}
	if !shopify.ValidShopDomain(shop) {
		c.JSON(http.StatusBadRequest, errorBody("invalid shop (expected like your-store.myshopify.com)"))
		return
	}

	state, err := shopify.RandomState()
	if err != nil {
		writeError(c, fmt.Errorf("generate oauth state: %w", err))
		return
	}

	secure := strings.HasPrefix(h.opts.Host, "https://")
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, 600, "/api/auth", "", secure, true)
	c.Redirect(http.StatusFound, h.oauth.AuthorizeURL(shop, state))
}

// AuthCallback completes the install and stores the shop's access token.
func (h *Handler) AuthCallback(c *gin.Context) {
	shop := strings.ToLower(strings.TrimSpace(c.Query("shop")))
	code := c.Query("code")
	state := c.Query("state")

	if !shopify.ValidShopDomain(shop) || code == "" || state == "" {
		c.JSON(http.StatusBadRequest, errorBody("missing required oauth params"))
		return
	}
	if !h.oauth.VerifyCallback(c.Request.URL.Query()) {
		c.JSON(http.StatusBadRequest, errorBody("invalid hmac"))
		return
	}
	if expected, err := c.Cookie(stateCookie); err != nil || expected != state {
		c.JSON(http.StatusBadRequest, errorBody("invalid or expired state"))
		return
	}

	token, scope, err := h.oauth.Exchange(c.Request.Context(), shop, code)
	if err != nil {
		logging.WithContext(c.Request.Context()).Error("OAuth token exchange failed", zap.Error(err), zap.String("shop", shop))
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}

	if _, err := h.shops.CompleteInstall(c.Request.Context(), shop, token, scope); err != nil {
		writeError(c, err)
		return
	}
	logging.Info("Shop installed", zap.String("shop", shop), zap.String("scope", scope))

	c.SetCookie(stateCookie, "", -1, "/api/auth", "", strings.HasPrefix(h.opts.Host, "https://"), true)
	c.Redirect(http.StatusFound, fmt.Sprintf("https://%s/admin/apps/%s", shop, h.opts.APIKey))
}
