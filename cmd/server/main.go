package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shopify-x402/internal/config"
	"shopify-x402/internal/database"
	"shopify-x402/internal/handler"
	"shopify-x402/internal/infrastructure/facilitator"
	"shopify-x402/internal/infrastructure/shopify"
	"shopify-x402/internal/logging"
	"shopify-x402/internal/monitoring"
	"shopify-x402/internal/repo"
	"shopify-x402/internal/service"
)

func main() {
	// Initialize structured logging
	if err := logging.InitLogger(); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if cfg.ShopifyAPIKey == "" || cfg.ShopifyAPISecret == "" {
		logging.Warn("SHOPIFY_API_KEY or SHOPIFY_API_SECRET is empty, OAuth install will fail")
	}

	tp, err := monitoring.InitTracer(ctx, cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logging.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logging.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
	}

	mp, err := monitoring.InitMeter(ctx, cfg.ServiceName)
	if err != nil {
		logging.Fatal("Failed to initialize meter", zap.Error(err))
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	dbService := database.New(db)
	defer dbService.Close()

	if err := database.Migrate(ctx, db); err != nil {
		logging.Fatal("Failed to apply schema", zap.Error(err))
	}

	shopRepo := repo.NewShopRepo(db)
	paymentRepo := repo.NewPaymentRepo(db)

	facilitatorClient := facilitator.NewClient(facilitator.Config{
		URL:     cfg.FacilitatorURL,
		Timeout: cfg.FacilitatorTimeout,
	})
	shopifyClient := shopify.NewClient(shopify.Config{APIVersion: cfg.ShopifyAPIVersion})
	oauth := shopify.NewOAuth(shopify.OAuthConfig{
		APIKey:      cfg.ShopifyAPIKey,
		APISecret:   cfg.ShopifyAPISecret,
		Scopes:      cfg.ShopifyScopes,
		RedirectURL: cfg.Host + "/api/auth/callback",
	})

	shopService := service.NewShopService(shopRepo)
	checkoutService := service.NewCheckoutService(shopRepo, paymentRepo, facilitatorClient, shopifyClient)

	h := handler.New(shopService, checkoutService, oauth, dbService, handler.Options{
		Host:   cfg.Host,
		APIKey: cfg.ShopifyAPIKey,
	})

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(h, handler.RouterConfig{
		ServiceName:          cfg.ServiceName,
		CORSOrigins:          cfg.CORSOrigins,
		ProxySecret:          cfg.ShopifyAPISecret,
		VerifyProxySignature: cfg.ShopifyVerifyProxySignature,
		AdminSecret:          cfg.ShopifyAPISecret,
		VerifyAdminHMAC:      cfg.ShopifyVerifyAdminHMAC,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("Shopify x402 server starting",
			zap.String("port", cfg.Port),
			zap.String("host", cfg.Host),
			zap.String("facilitator", cfg.FacilitatorURL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", zap.Error(err))
	}
}
