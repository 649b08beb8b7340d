package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopify-x402/internal/domain"
	"shopify-x402/internal/infrastructure/facilitator"
	"shopify-x402/internal/infrastructure/shopify"
	"shopify-x402/internal/service"
	"shopify-x402/internal/testutil"
)

const demo = "demo.myshopify.com"

type fakeAuthorizer struct {
	validHMAC bool
	token     string
	err       error
	installs  []string
}

func (a *fakeAuthorizer) AuthorizeURL(shop, state string) string {
	return "https://" + shop + "/admin/oauth/authorize?state=" + state
}

func (a *fakeAuthorizer) Exchange(_ context.Context, shop, _ string) (string, string, error) {
	if a.err != nil {
		return "", "", a.err
	}
	a.installs = append(a.installs, shop)
	return a.token, "write_orders", nil
}

func (a *fakeAuthorizer) VerifyCallback(url.Values) bool {
	return a.validHMAC
}

type testApp struct {
	router      *gin.Engine
	shops       *testutil.ShopRepo
	payments    *testutil.PaymentRepo
	facilitator *testutil.Facilitator
	orders      *testutil.Orders
	auth        *fakeAuthorizer
}

func newTestApp(t *testing.T, cfg RouterConfig, shops ...*domain.Shop) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app := &testApp{
		shops:       testutil.NewShopRepo(shops...),
		payments:    &testutil.PaymentRepo{},
		facilitator: &testutil.Facilitator{Verified: true},
		orders: &testutil.Orders{Products: map[string]shopify.ProductSummary{
			"7": {ID: 7, Title: "Poster", Price: "12.50"},
		}},
		auth: &fakeAuthorizer{validHMAC: true, token: "shpat_new"},
	}
	h := New(
		service.NewShopService(app.shops),
		service.NewCheckoutService(app.shops, app.payments, app.facilitator, app.orders),
		app.auth,
		nil,
		Options{Host: "https://app.example.com/", APIKey: "key123"},
	)
	cfg.ServiceName = "test"
	app.router = NewRouter(h, cfg)
	return app
}

func enabledShop() *domain.Shop {
	return &domain.Shop{
		ShopDomain:      demo,
		AccessToken:     "shpat_test",
		WalletAddress:   "0xWallet",
		AcceptedToken:   "USDC",
		AcceptedNetwork: "base",
		IsX402Enabled:   true,
	}
}

func (a *testApp) do(method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthWithoutDatabase(t *testing.T) {
	app := newTestApp(t, RouterConfig{})

	w := app.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestConfigRoundTrip(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, &domain.Shop{ShopDomain: demo})

	w := app.do(http.MethodPost, "/api/config", gin.H{
		"shop":            demo,
		"walletAddress":   "0xWallet",
		"acceptedToken":   "USDC",
		"acceptedNetwork": "base",
		"isX402Enabled":   true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = app.do(http.MethodGet, "/api/config?shop="+demo, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"walletAddress": "0xWallet",
		"acceptedToken": "USDC",
		"acceptedNetwork": "base",
		"isX402Enabled": true
	}`, w.Body.String())
}

func TestConfigPartialUpdateKeepsOtherFields(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())

	w := app.do(http.MethodPost, "/api/config", gin.H{"shop": demo, "isX402Enabled": false})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, false, body["isX402Enabled"])
	assert.Equal(t, "0xWallet", body["walletAddress"])
}

func TestConfigShopResolution(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())

	w := app.do(http.MethodGet, "/api/config", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(http.MethodGet, "/api/config?shop=unknown.myshopify.com", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(http.MethodGet, "/api/config", nil, ShopDomainHeader, " DEMO.myshopify.com ")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPaymentRequest(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())

	w := app.do(http.MethodPost, "/api/payment/request", gin.H{
		"shop":         demo,
		"productId":    "7",
		"productTitle": "Poster",
		"amount":       12.5,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "x402", body["protocol"])
	assert.Equal(t, "2.0", body["version"])
	assert.Equal(t, "0xWallet", body["recipient"])
	assert.Equal(t, "12.5", body["amount"])
}

func TestPaymentRequestDisabledShop(t *testing.T) {
	shop := enabledShop()
	shop.IsX402Enabled = false
	app := newTestApp(t, RouterConfig{}, shop)

	w := app.do(http.MethodPost, "/api/payment/request", gin.H{"shop": demo, "amount": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyDisabledShopRecordsNothing(t *testing.T) {
	shop := enabledShop()
	shop.IsX402Enabled = false
	app := newTestApp(t, RouterConfig{}, shop)

	w := app.do(http.MethodPost, "/api/payment/verify", gin.H{
		"shop":        demo,
		"txHash":      "0xabc",
		"fromAddress": "0xBuyer",
		"amount":      "10",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, app.payments.Count())
	assert.Zero(t, app.facilitator.VerifyCalls)
}

func TestVerifyMissingTxHash(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())

	w := app.do(http.MethodPost, "/api/payment/verify", gin.H{"shop": demo, "amount": "10"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "txHash")
}

func TestVerifyDuplicateTransaction(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())
	body := gin.H{"shop": demo, "txHash": "0xdup", "fromAddress": "0xBuyer", "amount": "10"}

	w := app.do(http.MethodPost, "/api/payment/verify", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = app.do(http.MethodPost, "/api/payment/verify", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, app.payments.Count())
}

func TestVerifyFacilitatorRejects(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())
	app.facilitator.Verified = false

	w := app.do(http.MethodPost, "/api/payment/verify", gin.H{
		"shop": demo, "txHash": "0xbad", "fromAddress": "0xBuyer", "amount": "10", "productId": "7",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, false, body["verified"])
	assert.Equal(t, string(domain.PaymentFailed), body["status"])
	assert.NotContains(t, body, "order")
	assert.Empty(t, app.orders.Orders)
}

func TestVerifyOrderFailureKeepsPayment(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())
	app.orders.Err = &shopify.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "line_items invalid"}

	w := app.do(http.MethodPost, "/api/payment/verify", gin.H{
		"shop": demo, "txHash": "0xorphan", "fromAddress": "0xBuyer", "amount": "10", "productId": "7",
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := decode(t, w)
	assert.Contains(t, body["error"], "line_items invalid")
	assert.NotEmpty(t, body["paymentId"])
	assert.Equal(t, 1, app.payments.Count())
}

func TestDemoScenario(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, &domain.Shop{ShopDomain: demo, AccessToken: "shpat_test"})

	w := app.do(http.MethodPost, "/api/config", gin.H{
		"shop":            demo,
		"walletAddress":   "0xWallet",
		"acceptedToken":   "USDC",
		"acceptedNetwork": "base",
		"isX402Enabled":   true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	for _, tx := range []string{"0xfirst", "0xsecond"} {
		w = app.do(http.MethodPost, "/api/payment/verify", gin.H{
			"shop":         demo,
			"txHash":       tx,
			"fromAddress":  "0xBuyer",
			"amount":       "12.50",
			"productId":    "7",
			"productTitle": "Poster",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decode(t, w)
		assert.Equal(t, true, body["verified"])
		assert.Equal(t, string(domain.PaymentCompleted), body["status"])
		assert.Contains(t, body, "order")
	}
	assert.Len(t, app.orders.Orders, 2)

	w = app.do(http.MethodGet, "/api/payments?shop="+demo, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Payments []paymentResponse `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Payments, 2)
	assert.Equal(t, "0xsecond", listed.Payments[0].TxHash)
	assert.Equal(t, "0xfirst", listed.Payments[1].TxHash)
	assert.Equal(t, "12.5", listed.Payments[0].Amount)
	assert.Equal(t, domain.FacilitatorVerified, listed.Payments[0].FacilitatorStatus)
}

func TestProxyProducts(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())

	w := app.do(http.MethodGet, "/shopify-proxy/products?shop="+demo, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["products"], 1)

	w = app.do(http.MethodGet, "/shopify-proxy/products/7?shop="+demo, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = app.do(http.MethodGet, "/shopify-proxy/products/99?shop="+demo, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckoutWithoutPaymentReturnsChallenge(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())

	w := app.do(http.MethodPost, "/shopify-proxy/checkout", gin.H{"shop": demo, "productId": "7"})
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var challenge facilitator.PaymentRequired
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &challenge))
	assert.Equal(t, facilitator.X402Version, challenge.X402Version)
	require.Len(t, challenge.Accepts, 1)
	assert.Equal(t, "12500000", challenge.Accepts[0].Amount)
	assert.Equal(t, "0xWallet", challenge.Accepts[0].PayTo)
	assert.Equal(t, "https://app.example.com/shopify-proxy/checkout", challenge.Accepts[0].Resource)
	assert.Zero(t, app.payments.Count())
}

func authorizationHeader(t *testing.T, nonce string) string {
	t.Helper()
	header, err := facilitator.EncodePaymentHeader(facilitator.PaymentPayload{
		X402Version: facilitator.X402Version,
		Payload: map[string]any{
			"signature": "0xsig",
			"authorization": map[string]any{
				"from":  "0xBuyer",
				"to":    "0xWallet",
				"value": "12500000",
				"nonce": nonce,
			},
		},
	})
	require.NoError(t, err)
	return header
}

func TestCheckoutWithPayment(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())

	header := authorizationHeader(t, "0xnonce")

	w := app.do(http.MethodPost, "/shopify-proxy/checkout?shop="+demo, gin.H{"productId": "7"},
		facilitator.PaymentHeader, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, "0xBuyer", body["payer"])
	assert.Equal(t, "0xsettled-0xnonce", body["transaction"])
	require.Len(t, app.orders.Orders, 1)
	assert.Equal(t, "0xsettled-0xnonce", app.orders.Orders[0].TxHash)

	raw, err := base64.StdEncoding.DecodeString(w.Header().Get(facilitator.PaymentResponseHeader))
	require.NoError(t, err)
	var settlement facilitator.SettleResponse
	require.NoError(t, json.Unmarshal(raw, &settlement))
	assert.True(t, settlement.Success)
	assert.Equal(t, "0xsettled-0xnonce", settlement.Transaction)
}

func TestCheckoutSettlementFailure(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())
	app.facilitator.SettleReason = "authorization_expired"

	w := app.do(http.MethodPost, "/shopify-proxy/checkout?shop="+demo+"&productId=7", nil,
		facilitator.PaymentHeader, authorizationHeader(t, "0xnonce"))
	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "authorization_expired", body["error"])
	assert.NotEmpty(t, body["paymentId"])
	assert.Len(t, body["accepts"], 1)
	assert.Empty(t, w.Header().Get(facilitator.PaymentResponseHeader))
	assert.Equal(t, 1, app.payments.Count())
	assert.Empty(t, app.orders.Orders)
}

func TestCheckoutRejectedPaymentReturnsChallenge(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())
	app.facilitator.Verified = false
	app.facilitator.Reason = "insufficient_funds"

	header, err := facilitator.EncodePaymentHeader(facilitator.PaymentPayload{
		X402Version: facilitator.X402Version,
		Payload:     map[string]any{"transaction": "0xtx"},
	})
	require.NoError(t, err)

	w := app.do(http.MethodPost, "/shopify-proxy/checkout?shop="+demo+"&productId=7", nil,
		facilitator.PaymentHeader, header)
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	body := decode(t, w)
	assert.Equal(t, "insufficient_funds", body["error"])
	assert.NotEmpty(t, body["paymentId"])
	assert.Equal(t, 1, app.payments.Count())
}

func TestProxySignatureRequired(t *testing.T) {
	const secret = "proxy-secret"
	app := newTestApp(t, RouterConfig{ProxySecret: secret, VerifyProxySignature: true}, enabledShop())

	w := app.do(http.MethodGet, "/shopify-proxy/config?shop="+demo, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	query := url.Values{"shop": {demo}, "path_prefix": {"/apps/x402"}, "timestamp": {"1700000000"}}
	shopify.SignProxyQuery(query, secret)

	w = app.do(http.MethodGet, "/shopify-proxy/config?"+query.Encode(), nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestBeginAuth(t *testing.T) {
	app := newTestApp(t, RouterConfig{})

	w := app.do(http.MethodGet, "/api/auth?shop="+demo, nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "https://"+demo+"/admin/oauth/authorize")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, stateCookie, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)

	w = app.do(http.MethodGet, "/api/auth?shop=evil.example.com", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func callbackRequest(state, cookie string) *http.Request {
	query := url.Values{"shop": {demo}, "code": {"abc"}, "state": {state}, "hmac": {"ignored"}}
	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?"+query.Encode(), nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: stateCookie, Value: cookie})
	}
	return req
}

func TestAuthCallbackInstallsShop(t *testing.T) {
	app := newTestApp(t, RouterConfig{})

	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, callbackRequest("nonce", "nonce"))
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	assert.Equal(t, "https://"+demo+"/admin/apps/key123", w.Header().Get("Location"))

	shop, err := app.shops.FindByDomain(context.Background(), demo)
	require.NoError(t, err)
	assert.Equal(t, "shpat_new", shop.AccessToken)
	assert.False(t, shop.IsX402Enabled)
}

func TestAuthCallbackRejects(t *testing.T) {
	app := newTestApp(t, RouterConfig{})

	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, callbackRequest("nonce", "other"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	app.auth.validHMAC = false
	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, callbackRequest("nonce", "nonce"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	app.auth.validHMAC = true
	app.auth.err = errors.New("exchange refused")
	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, callbackRequest("nonce", "nonce"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, app.auth.installs)
}

func TestProxyProductsUpstreamUnavailable(t *testing.T) {
	app := newTestApp(t, RouterConfig{}, enabledShop())
	app.orders.LookupErr = fmt.Errorf("%w: dial tcp: connection refused", shopify.ErrUnavailable)

	w := app.do(http.MethodGet, "/shopify-proxy/products?shop="+demo, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["error"], "connection refused")

	w = app.do(http.MethodGet, "/shopify-proxy/products/7?shop="+demo, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["error"], "shopify request failed")
}

func TestGetPayment(t *testing.T) {
	other := &domain.Shop{ShopDomain: "other.myshopify.com"}
	app := newTestApp(t, RouterConfig{}, enabledShop(), other)

	w := app.do(http.MethodPost, "/api/payment/verify", gin.H{
		"shop": demo, "txHash": "0xlookup", "fromAddress": "0xBuyer", "amount": "2",
	})
	require.Equal(t, http.StatusOK, w.Code)
	id, _ := decode(t, w)["paymentId"].(string)
	require.NotEmpty(t, id)

	w = app.do(http.MethodGet, "/api/payments/"+id+"?shop="+demo, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got struct {
		Payment paymentResponse `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "0xlookup", got.Payment.TxHash)
	assert.Equal(t, domain.PaymentCompleted, got.Payment.Status)

	w = app.do(http.MethodGet, "/api/payments/"+id+"?shop="+other.ShopDomain, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(http.MethodGet, "/api/payments/nope?shop="+demo, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfigWriteRequiresAdminSignature(t *testing.T) {
	const secret = "app-secret"
	other := &domain.Shop{ShopDomain: "other.myshopify.com"}
	app := newTestApp(t, RouterConfig{AdminSecret: secret, VerifyAdminHMAC: true}, enabledShop(), other)
	update := gin.H{"shop": demo, "walletAddress": "0xAttacker"}

	w := app.do(http.MethodPost, "/api/config", update)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	signed := func(shop string, at time.Time) string {
		query := url.Values{"shop": {shop}, "timestamp": {strconv.FormatInt(at.Unix(), 10)}}
		shopify.SignCallbackQuery(query, secret)
		return query.Encode()
	}

	w = app.do(http.MethodPost, "/api/config?"+signed(demo, time.Now().Add(-48*time.Hour)), update)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(http.MethodPost, "/api/config?"+signed(other.ShopDomain, time.Now()), update)
	assert.Equal(t, http.StatusForbidden, w.Code)

	shop, err := app.shops.FindByDomain(context.Background(), demo)
	require.NoError(t, err)
	assert.Equal(t, "0xWallet", shop.WalletAddress)

	w = app.do(http.MethodPost, "/api/config?"+signed(demo, time.Now()), gin.H{"walletAddress": "0xNewWallet"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "0xNewWallet", decode(t, w)["walletAddress"])

	w = app.do(http.MethodGet, "/api/config?shop="+demo, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
