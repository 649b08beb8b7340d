package shopify

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/oauth2"
)

var shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// ValidShopDomain reports whether shop looks like your-store.myshopify.com.
func ValidShopDomain(shop string) bool {
	return shopDomainPattern.MatchString(shop)
}

type OAuthConfig struct {
	APIKey      string
	APISecret   string
	Scopes      string
	RedirectURL string
	// BaseURL replaces https://{shop} when set.
	BaseURL    string
	HTTPClient *http.Client
}

// OAuth drives the Shopify authorization code grant for a single app.
type OAuth struct {
	cfg OAuthConfig
}

func NewOAuth(cfg OAuthConfig) *OAuth {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OAuth{cfg: cfg}
}

func (o *OAuth) config(shop string) *oauth2.Config {
	base := o.cfg.BaseURL
	if base == "" {
		base = "https://" + shop
	}
	return &oauth2.Config{
		ClientID:     o.cfg.APIKey,
		ClientSecret: o.cfg.APISecret,
		RedirectURL:  o.cfg.RedirectURL,
		// Shopify expects a comma separated scope list.
		Scopes: []string{o.cfg.Scopes},
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/admin/oauth/authorize",
			TokenURL:  base + "/admin/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizeURL is where the merchant is sent to approve the install.
func (o *OAuth) AuthorizeURL(shop, state string) string {
	return o.config(shop).AuthCodeURL(state)
}

// Exchange trades an authorization code for an offline access token.
func (o *OAuth) Exchange(ctx context.Context, shop, code string) (accessToken, scope string, err error) {
	if o.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.cfg.HTTPClient)
	}
	tok, err := o.config(shop).Exchange(ctx, code)
	if err != nil {
		return "", "", fmt.Errorf("token exchange for %s: %w", shop, err)
	}
	scope, _ = tok.Extra("scope").(string)
	return tok.AccessToken, scope, nil
}

// VerifyCallback checks the hmac parameter Shopify adds to OAuth redirects.
func (o *OAuth) VerifyCallback(query url.Values) bool {
	return VerifyHMAC(query, o.cfg.APISecret)
}

// VerifyHMAC validates the hex hmac of the remaining params sorted and joined by '&'.
func VerifyHMAC(query url.Values, secret string) bool {
	given := query.Get("hmac")
	if given == "" || secret == "" {
		return false
	}
	message := canonicalQuery(query, "&", "hmac", "signature")
	return hmac.Equal([]byte(sign(secret, message)), []byte(strings.ToLower(given)))
}

// VerifyProxySignature validates the signature parameter of app proxy requests:
// params sorted and concatenated without a separator, multi-values joined by ','.
func VerifyProxySignature(query url.Values, secret string) bool {
	given := query.Get("signature")
	if given == "" || secret == "" {
		return false
	}
	message := canonicalQuery(query, "", "signature")
	return hmac.Equal([]byte(sign(secret, message)), []byte(strings.ToLower(given)))
}

// SignProxyQuery adds a valid app proxy signature to query.
func SignProxyQuery(query url.Values, secret string) {
	query.Del("signature")
	query.Set("signature", sign(secret, canonicalQuery(query, "")))
}

// SignCallbackQuery adds the hmac Shopify puts on OAuth callbacks and admin launches.
func SignCallbackQuery(query url.Values, secret string) {
	query.Del("hmac")
	query.Set("hmac", sign(secret, canonicalQuery(query, "&")))
}

func canonicalQuery(query url.Values, sep string, skip ...string) string {
	parts := make([]string, 0, len(query))
	for key, values := range query {
		if contains(skip, key) {
			continue
		}
		parts = append(parts, key+"="+strings.Join(values, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, sep)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// RandomState returns a hex nonce for the OAuth state parameter.
func RandomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
