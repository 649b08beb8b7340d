package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Config holds application configuration
type Config struct {
	ServiceName  string
	Port         string
	Host         string
	DatabaseURL  string
	OTELEndpoint string
	CORSOrigins  []string

	ShopifyAPIKey               string
	ShopifyAPISecret            string
	ShopifyScopes               string
	ShopifyAPIVersion           string
	ShopifyVerifyProxySignature bool
	// ShopifyVerifyAdminHMAC requires Shopify's signed admin query on config writes.
	ShopifyVerifyAdminHMAC bool

	FacilitatorURL     string
	FacilitatorTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		ServiceName:  "shopify-x402",
		Port:         getEnv("PORT", "3000"),
		Host:         strings.TrimRight(getEnv("HOST", "http://localhost:3000"), "/"),
		DatabaseURL:  databaseURL(),
		OTELEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		CORSOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),

		ShopifyAPIKey:               os.Getenv("SHOPIFY_API_KEY"),
		ShopifyAPISecret:            os.Getenv("SHOPIFY_API_SECRET"),
		ShopifyScopes:               getEnv("SCOPES", "read_products,write_orders"),
		ShopifyAPIVersion:           getEnv("SHOPIFY_API_VERSION", "2024-10"),
		ShopifyVerifyProxySignature: getBool("SHOPIFY_VERIFY_PROXY_SIGNATURE", false),
		ShopifyVerifyAdminHMAC:      getBool("SHOPIFY_VERIFY_ADMIN_HMAC", true),

		FacilitatorURL:     strings.TrimRight(getEnv("FACILITATOR_URL", "https://x402.org/facilitator"), "/"),
		FacilitatorTimeout: getDuration("FACILITATOR_TIMEOUT", 30*time.Second),
	}
}

// databaseURL prefers DATABASE_URL and falls back to the BLUEPRINT_DB_* parts.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		os.Getenv("BLUEPRINT_DB_USERNAME"),
		os.Getenv("BLUEPRINT_DB_PASSWORD"),
		getEnv("BLUEPRINT_DB_HOST", "localhost"),
		getEnv("BLUEPRINT_DB_PORT", "5432"),
		os.Getenv("BLUEPRINT_DB_DATABASE"),
		getEnv("BLUEPRINT_DB_SCHEMA", "public"),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
