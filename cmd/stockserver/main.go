package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/front-sio/pos-api/internal/auth"
	"github.com/front-sio/pos-api/internal/config"
	"github.com/front-sio/pos-api/internal/httpapi"
	"github.com/front-sio/pos-api/internal/ledger"
	"github.com/front-sio/pos-api/internal/logging"
	"github.com/front-sio/pos-api/internal/observability"
	"github.com/front-sio/pos-api/internal/store"
	"github.com/front-sio/pos-api/internal/store/memory"
	pgstore "github.com/front-sio/pos-api/internal/store/postgres"
)

type productRepository interface {
	store.StockRepository
	store.CatalogRepository
}

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	if err := validateConfig(cfg); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, "pos-stock-api", cfg.OTLPEndpoint)
	if err != nil {
		logger.WithError(err).Warn("tracing disabled")
	}

	var products productRepository
	var closeProducts func() error
	if cfg.ProductsDatabaseURL != "" {
		pg, err := pgstore.NewProductStore(ctx, cfg.ProductsDatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and PRODUCTS_DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatalf("migrate products schema: %v", err)
		}
		products = pg
		closeProducts = pg.Close
		logger.Info("products repository: postgres")
	} else {
		products = memory.NewSeededProducts()
		logger.Info("products repository: in-memory (seeded)")
	}

	api := httpapi.NewStock(ledger.New(products, logger), products, httpapi.StockOptions{
		AllowedOrigin: cfg.AllowedOrigin,
		ServiceTokens: auth.NewServiceTokenManager(cfg.ServiceTokenSecret),
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.StockAddress(),
		Handler:           otelhttp.NewHandler(api.Handler(), "pos-stock-api"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.StockAddress()}).Info("stock API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("tracing shutdown")
	}
	if closeProducts != nil {
		if err := closeProducts(); err != nil {
			logger.WithError(err).Error("close error")
		}
	}

	logger.Info("stock server stopped")
}

// validateConfig requires service tokens whenever the stock service is backed
// by a real database.
func validateConfig(cfg config.Config) error {
	if cfg.ServiceTokenSecret != "" && len(cfg.ServiceTokenSecret) < 32 {
		return fmt.Errorf("SERVICE_TOKEN_SECRET must be at least 32 characters")
	}
	if cfg.ProductsDatabaseURL != "" && cfg.ServiceTokenSecret == "" {
		return fmt.Errorf("SERVICE_TOKEN_SECRET must be set when PRODUCTS_DATABASE_URL is used")
	}
	return nil
}
