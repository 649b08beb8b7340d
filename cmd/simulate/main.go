package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"shopify-x402/internal/infrastructure/shopify"
)

// Drives a running server through the merchant flow: configure the demo shop,
// request a payment, verify a batch of transactions and read the history back.
func main() {
	baseURL := flag.String("url", "http://localhost:3000", "server base URL")
	shop := flag.String("shop", "demo.myshopify.com", "installed shop domain")
	wallet := flag.String("wallet", "0x0000000000000000000000000000000000000001", "merchant wallet address")
	count := flag.Int("n", 5, "number of payments to verify")
	secret := flag.String("secret", os.Getenv("SHOPIFY_API_SECRET"), "app secret used to sign the config request")
	flag.Parse()

	ctx := context.Background()
	client := &http.Client{Timeout: 40 * time.Second}

	call := func(method, path string, body any) (int, map[string]any) {
		var reader io.Reader
		if body != nil {
			raw, _ := json.Marshal(body)
			reader = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, *baseURL+path, reader)
		if err != nil {
			log.Fatalf("build request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			log.Fatalf("%s %s: %v", method, path, err)
		}
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	fmt.Println("--- CONFIGURING SHOP ---")
	adminQuery := url.Values{"shop": {*shop}, "timestamp": {strconv.FormatInt(time.Now().Unix(), 10)}}
	if *secret != "" {
		shopify.SignCallbackQuery(adminQuery, *secret)
	}

	status, out := call(http.MethodPost, "/api/config?"+adminQuery.Encode(), map[string]any{
		"shop":            *shop,
		"walletAddress":   *wallet,
		"acceptedToken":   "USDC",
		"acceptedNetwork": "base",
		"isX402Enabled":   true,
	})
	if status != http.StatusOK {
		log.Fatalf("configure shop: %d %v (install the app on %s first)", status, out, *shop)
	}
	fmt.Printf("    -> %v\n", out)

	status, out = call(http.MethodPost, "/api/payment/request", map[string]any{
		"shop":         *shop,
		"productId":    "1",
		"productTitle": "Demo product",
		"amount":       "1.00",
	})
	fmt.Printf("Payment request: %d %v\n", status, out)

	fmt.Printf("--- VERIFYING %d PAYMENTS ---\n", *count)
	for i := 0; i < *count; i++ {
		txHash := fmt.Sprintf("0xdemo%d%d", time.Now().UnixNano(), i)
		fmt.Printf("[%d] Verifying %s ... ", i+1, txHash)

		status, out = call(http.MethodPost, "/api/payment/verify", map[string]any{
			"shop":        *shop,
			"txHash":      txHash,
			"fromAddress": "0x0000000000000000000000000000000000000002",
			"amount":      "1.00",
		})
		if status != http.StatusOK {
			fmt.Printf("FAILED: %d %v\n", status, out["error"])
			continue
		}
		fmt.Printf("%v (verified=%v)\n", out["status"], out["verified"])
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Println("--- PAYMENT HISTORY (newest first) ---")
	status, out = call(http.MethodGet, "/api/payments?shop="+*shop, nil)
	if status != http.StatusOK {
		log.Fatalf("list payments: %d %v", status, out)
	}
	payments, _ := out["payments"].([]any)
	for _, p := range payments {
		row, _ := p.(map[string]any)
		fmt.Printf("    %v  %v  %v  %v\n", row["createdAt"], row["txHash"], row["amount"], row["status"])
	}
}
