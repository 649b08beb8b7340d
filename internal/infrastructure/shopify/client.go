package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"shopify-x402/internal/domain"
)

const (
	// GatewayLabel tags the synthetic sale transaction on orders paid through x402.
	GatewayLabel = "x402 Crypto Payment"

	DefaultAPIVersion = "2024-10"

	defaultProductLimit = 10
	maxProductLimit     = 250
)

var (
	ErrProductNotFound = errors.New("product not found")
	// ErrUnavailable wraps failures to reach Shopify or to read its reply.
	ErrUnavailable = errors.New("shopify request failed")
)

// APIError carries a non-2xx Admin API response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify api error (%d): %s", e.StatusCode, e.Message)
}

// Client talks to the Shopify Admin REST API on behalf of an installed shop.
type Client interface {
	CreateOrder(ctx context.Context, shop *domain.Shop, input OrderInput) (*OrderReceipt, error)
	ListProducts(ctx context.Context, shop *domain.Shop, limit int) ([]ProductSummary, error)
	GetProduct(ctx context.Context, shop *domain.Shop, productID string) (*ProductSummary, error)
}

type Config struct {
	APIVersion string
	// BaseURL replaces https://{shop} when set.
	BaseURL    string
	HTTPClient *http.Client
}

type client struct {
	apiVersion string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) Client {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &client{
		apiVersion: apiVersion,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}
}

type OrderInput struct {
	ProductID       string
	ProductTitle    string
	ProductPrice    string
	CustomerAddress string
	TxHash          string
	PaymentAmount   string
}

type OrderReceipt struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	OrderNumber     int    `json:"orderNumber"`
	TotalPrice      string `json:"totalPrice"`
	FinancialStatus string `json:"financialStatus"`
	CreatedAt       string `json:"createdAt"`
}

type ProductSummary struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Handle      string `json:"handle"`
	Description string `json:"description"`
	Price       string `json:"price"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Status      string `json:"status"`
}

type nameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type orderLineItem struct {
	Title      string      `json:"title"`
	Price      string      `json:"price"`
	Quantity   int         `json:"quantity"`
	Properties []nameValue `json:"properties,omitempty"`
}

type orderTransaction struct {
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Amount  string `json:"amount"`
	Gateway string `json:"gateway"`
}

type orderPayload struct {
	LineItems       []orderLineItem    `json:"line_items"`
	FinancialStatus string             `json:"financial_status"`
	Transactions    []orderTransaction `json:"transactions"`
	Note            string             `json:"note"`
	NoteAttributes  []nameValue        `json:"note_attributes"`
	Tags            string             `json:"tags"`
}

type orderResource struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	OrderNumber     int    `json:"order_number"`
	TotalPrice      string `json:"total_price"`
	FinancialStatus string `json:"financial_status"`
	CreatedAt       string `json:"created_at"`
}

type productResource struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Handle   string `json:"handle"`
	BodyHTML string `json:"body_html"`
	Status   string `json:"status"`
	Variants []struct {
		Price string `json:"price"`
	} `json:"variants"`
	Image *struct {
		Src string `json:"src"`
	} `json:"image"`
}

func (p productResource) summary() ProductSummary {
	s := ProductSummary{
		ID:          p.ID,
		Title:       p.Title,
		Handle:      p.Handle,
		Description: p.BodyHTML,
		Status:      p.Status,
	}
	if len(p.Variants) > 0 {
		s.Price = p.Variants[0].Price
	}
	if p.Image != nil {
		s.ImageURL = p.Image.Src
	}
	return s
}

func (c *client) CreateOrder(ctx context.Context, shop *domain.Shop, input OrderInput) (*OrderReceipt, error) {
	order := orderPayload{
		LineItems: []orderLineItem{{
			Title:      input.ProductTitle,
			Price:      input.ProductPrice,
			Quantity:   1,
			Properties: []nameValue{{Name: "product_id", Value: input.ProductID}},
		}},
		FinancialStatus: "paid",
		Transactions: []orderTransaction{{
			Kind:    "sale",
			Status:  "success",
			Amount:  input.PaymentAmount,
			Gateway: GatewayLabel,
		}},
		Note: fmt.Sprintf("Paid via x402. Transaction: %s. Payer: %s", input.TxHash, input.CustomerAddress),
		NoteAttributes: []nameValue{
			{Name: "x402_tx_hash", Value: input.TxHash},
			{Name: "x402_payer", Value: input.CustomerAddress},
		},
		Tags: "x402, crypto",
	}

	var out struct {
		Order orderResource `json:"order"`
	}
	if err := c.do(ctx, shop, http.MethodPost, "/orders.json", nil, map[string]any{"order": order}, &out); err != nil {
		return nil, err
	}
	return &OrderReceipt{
		ID:              out.Order.ID,
		Name:            out.Order.Name,
		OrderNumber:     out.Order.OrderNumber,
		TotalPrice:      out.Order.TotalPrice,
		FinancialStatus: out.Order.FinancialStatus,
		CreatedAt:       out.Order.CreatedAt,
	}, nil
}

func (c *client) ListProducts(ctx context.Context, shop *domain.Shop, limit int) ([]ProductSummary, error) {
	if limit <= 0 {
		limit = defaultProductLimit
	}
	if limit > maxProductLimit {
		limit = maxProductLimit
	}

	var out struct {
		Products []productResource `json:"products"`
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, shop, http.MethodGet, "/products.json", query, nil, &out); err != nil {
		return nil, err
	}

	products := make([]ProductSummary, 0, len(out.Products))
	for _, p := range out.Products {
		products = append(products, p.summary())
	}
	return products, nil
}

func (c *client) GetProduct(ctx context.Context, shop *domain.Shop, productID string) (*ProductSummary, error) {
	if _, err := strconv.ParseInt(productID, 10, 64); err != nil {
		return nil, fmt.Errorf("product %q: %w", productID, ErrProductNotFound)
	}

	var out struct {
		Product productResource `json:"product"`
	}
	err := c.do(ctx, shop, http.MethodGet, "/products/"+productID+".json", nil, nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("product %s: %w", productID, ErrProductNotFound)
	}
	if err != nil {
		return nil, err
	}
	summary := out.Product.summary()
	return &summary, nil
}

func (c *client) endpoint(shopDomain, path string) string {
	base := c.baseURL
	if base == "" {
		base = "https://" + shopDomain
	}
	return fmt.Sprintf("%s/admin/api/%s%s", base, c.apiVersion, path)
}

func (c *client) do(ctx context.Context, shop *domain.Shop, method, path string, query url.Values, in, out any) error {
	if shop.AccessToken == "" {
		return fmt.Errorf("shop %s has no access token", shop.ShopDomain)
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	endpoint := c.endpoint(shop.ShopDomain, path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", shop.AccessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

// errorMessage extracts Shopify's "errors" field, which is either a string or an object.
func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Errors) == 0 {
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text
		}
		return fallback
	}
	var text string
	if err := json.Unmarshal(body.Errors, &text); err == nil {
		return text
	}
	return string(body.Errors)
}
