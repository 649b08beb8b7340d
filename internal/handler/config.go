package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shopify-x402/internal/domain"
)

type configRequest struct {
	Shop            string  `json:"shop"`
	WalletAddress   *string `json:"walletAddress"`
	AcceptedToken   *string `json:"acceptedToken"`
	AcceptedNetwork *string `json:"acceptedNetwork"`
	IsX402Enabled   *bool   `json:"isX402Enabled"`
}

type configResponse struct {
	WalletAddress   string `json:"walletAddress"`
	AcceptedToken   string `json:"acceptedToken"`
	AcceptedNetwork string `json:"acceptedNetwork"`
	IsX402Enabled   bool   `json:"isX402Enabled"`
}

func newConfigResponse(shop *domain.Shop) configResponse {
	return configResponse{
		WalletAddress:   shop.WalletAddress,
		AcceptedToken:   shop.AcceptedToken,
		AcceptedNetwork: shop.AcceptedNetwork,
		IsX402Enabled:   shop.IsX402Enabled,
	}
}

func (h *Handler) GetConfig(c *gin.Context) {
	shop, err := h.shops.GetConfig(c.Request.Context(), resolveShop(c, ""))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConfigResponse(shop))
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	shopDomain := resolveShop(c, req.Shop)
	if signedShopMismatch(c, shopDomain) {
		c.JSON(http.StatusForbidden, errorBody("signed shop does not match"))
		return
	}

	shop, err := h.shops.UpdateConfig(c.Request.Context(), shopDomain, domain.ShopUpdate{
		WalletAddress:   req.WalletAddress,
		AcceptedToken:   req.AcceptedToken,
		AcceptedNetwork: req.AcceptedNetwork,
		IsX402Enabled:   req.IsX402Enabled,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConfigResponse(shop))
}
