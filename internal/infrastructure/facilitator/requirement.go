package facilitator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"shopify-x402/internal/domain"
)

const (
	schemeExact              = "exact"
	defaultMaxTimeoutSeconds = 60
	defaultTokenDecimals     = 6
)

var ErrUnsupportedAsset = errors.New("unsupported token for network")

type asset struct {
	address  string
	decimals int32
	name     string
}

// knownAssets maps network -> token symbol -> contract.
var knownAssets = map[string]map[string]asset{
	"base": {
		"USDC": {address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", decimals: 6, name: "USD Coin"},
	},
	"base-sepolia": {
		"USDC": {address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", decimals: 6, name: "USDC"},
	},
	"eip155:8453": {
		"USDC": {address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", decimals: 6, name: "USD Coin"},
	},
	"eip155:84532": {
		"USDC": {address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", decimals: 6, name: "USDC"},
	},
}

func resolveAsset(network, token string) (asset, error) {
	if strings.HasPrefix(token, "0x") {
		return asset{address: token, decimals: defaultTokenDecimals}, nil
	}
	if a, ok := knownAssets[strings.ToLower(network)][strings.ToUpper(token)]; ok {
		return a, nil
	}
	return asset{}, fmt.Errorf("%s on %s: %w", token, network, ErrUnsupportedAsset)
}

// ToAtomicUnits converts a human readable amount into token base units, truncating
// digits beyond the token's precision.
func ToAtomicUnits(amount decimal.Decimal, decimals int32) string {
	return amount.Shift(decimals).Truncate(0).String()
}

// BuildRequirement derives the exact-scheme requirement for charging amount to shop.
func BuildRequirement(shop *domain.Shop, amount decimal.Decimal, description, resource string) (Requirement, error) {
	if err := shop.CheckAccepting(); err != nil {
		return Requirement{}, err
	}
	if !amount.IsPositive() {
		return Requirement{}, domain.ErrInvalidAmount
	}

	a, err := resolveAsset(shop.AcceptedNetwork, shop.AcceptedToken)
	if err != nil {
		return Requirement{}, err
	}

	atomic := ToAtomicUnits(amount, a.decimals)
	if atomic == "0" {
		return Requirement{}, fmt.Errorf("%w: %s is below one base unit", domain.ErrInvalidAmount, amount)
	}

	req := Requirement{
		Scheme:            schemeExact,
		Network:           shop.AcceptedNetwork,
		Asset:             a.address,
		Amount:            atomic,
		PayTo:             shop.WalletAddress,
		MaxTimeoutSeconds: defaultMaxTimeoutSeconds,
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
	}
	if a.name != "" {
		req.Extra = map[string]any{"name": a.name, "version": "2"}
	}
	return req, nil
}
