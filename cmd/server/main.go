package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/front-sio/pos-api/internal/auth"
	"github.com/front-sio/pos-api/internal/cache"
	"github.com/front-sio/pos-api/internal/clients"
	"github.com/front-sio/pos-api/internal/config"
	"github.com/front-sio/pos-api/internal/httpapi"
	"github.com/front-sio/pos-api/internal/invoicing"
	"github.com/front-sio/pos-api/internal/ledger"
	"github.com/front-sio/pos-api/internal/logging"
	"github.com/front-sio/pos-api/internal/observability"
	"github.com/front-sio/pos-api/internal/pricing"
	"github.com/front-sio/pos-api/internal/saga"
	"github.com/front-sio/pos-api/internal/service"
	"github.com/front-sio/pos-api/internal/store"
	"github.com/front-sio/pos-api/internal/store/memory"
	pgstore "github.com/front-sio/pos-api/internal/store/postgres"
)

// stockBackend is what the sale saga needs from the products side, whether it
// runs in-process or behind the stock service.
type stockBackend interface {
	service.Ledger
	pricing.Resolver
}

type inProcessStock struct {
	*ledger.Service
	*pricing.StoreResolver
}

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 6)

	shutdownTracing, err := observability.SetupTracing(ctx, "pos-sales-api", cfg.OTLPEndpoint)
	if err != nil {
		logger.WithError(err).Warn("tracing disabled")
	}

	var sales store.SalesRepository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatalf("migrate sales schema: %v", err)
		}
		sales = pg
		closers = append(closers, pg.Close)
		logger.Info("sales repository: postgres")
	} else {
		sales = memory.New()
		logger.Info("sales repository: in-memory")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unavailable, price cache and recovery lock disabled")
			_ = client.Close()
		} else {
			redisClient = client
			closers = append(closers, client.Close)
			logger.Info("redis: connected")
		}
	}

	serviceTokens := auth.NewServiceTokenManager(cfg.ServiceTokenSecret)
	var stock stockBackend
	if cfg.ProductsServiceURL != "" {
		stock = clients.NewProductsClient(cfg.ProductsServiceURL, cfg.UpstreamTimeout(), serviceTokens, logger)
		logger.WithField("url", cfg.ProductsServiceURL).Info("stock ledger: products service")
	} else {
		products, closeProducts := openProductStore(ctx, cfg, logger)
		if closeProducts != nil {
			closers = append(closers, closeProducts)
		}
		stock = inProcessStock{
			Service:       ledger.New(products, logger),
			StoreResolver: pricing.NewStoreResolver(products),
		}
		logger.Info("stock ledger: in-process")
	}

	var priceCache cache.PriceCache = cache.NoopPriceCache{}
	var locker *redislock.Client
	if redisClient != nil {
		priceCache = cache.NewRedisPriceCache(redisClient)
		locker = redislock.New(redisClient)
	}
	resolver := pricing.NewCachedResolver(stock, priceCache, cfg.PriceCacheTTL(), logger)

	journal, err := saga.OpenSQLite(cfg.SagaJournalPath)
	if err != nil {
		logger.Fatalf("open saga journal %s: %v", cfg.SagaJournalPath, err)
	}
	closers = append(closers, journal.Close)

	var invoices service.InvoiceDispatcher
	var dispatcher *invoicing.Dispatcher
	if !cfg.DisableInvoicing {
		issuer, closeIssuer := newIssuer(cfg, logger)
		if closeIssuer != nil {
			closers = append(closers, closeIssuer)
		}
		dispatcher = invoicing.NewDispatcher(issuer, cfg.InvoiceWorkers, cfg.InvoiceQueueSize, cfg.UpstreamTimeout(), logger)
		invoices = dispatcher
	} else {
		logger.Info("invoicing: disabled")
	}

	svc, err := service.New(service.Deps{
		Sales:        sales,
		Ledger:       stock,
		Resolver:     resolver,
		Journal:      journal,
		Invoices:     invoices,
		CostFallback: cfg.CostFallback,
		StepTimeout:  cfg.StepTimeout(),
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("sales service: %v", err)
	}

	pin, err := auth.NewPINGuard(cfg.ReturnManagerPIN)
	if err != nil {
		logger.Fatalf("hash return manager pin: %v", err)
	}
	api := httpapi.NewSales(svc, httpapi.SalesOptions{
		AllowedOrigin: cfg.AllowedOrigin,
		Tokens:        auth.NewTokenManager(cfg.AuthSecret, "", time.Hour),
		ManagerPIN:    pin,
		Logger:        logger,
	})

	runCtx, stopRecovery := context.WithCancel(context.Background())
	recoverer := saga.NewRecoverer(journal, sales, stock, locker, cfg.RecoveryGrace(), logger)
	recoveryDone := make(chan struct{})
	go func() {
		defer close(recoveryDone)
		recoverer.Run(runCtx, cfg.RecoveryInterval())
	}()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           otelhttp.NewHandler(api.Handler(), "pos-sales-api"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout() + 2*cfg.StepTimeout() + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.Address(), "cost_fallback": svc.CostPolicy()}).Info("sales API listening")
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
	stopRecovery()
	<-recoveryDone
	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.WithError(err).Warn("invoice queue not drained")
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("tracing shutdown")
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.WithError(err).Error("close error")
		}
	}

	logger.Info("server stopped")
}

// openProductStore backs the in-process ledger with postgres when
// PRODUCTS_DATABASE_URL is set and with a seeded catalog otherwise.
func openProductStore(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (interface {
	store.StockRepository
	store.CatalogRepository
}, func() error) {
	if cfg.ProductsDatabaseURL == "" {
		logger.Info("products repository: in-memory (seeded)")
		return memory.NewSeededProducts(), nil
	}
	pg, err := pgstore.NewProductStore(ctx, cfg.ProductsDatabaseURL)
	if err != nil {
		logger.Fatalf("products postgres unavailable: %v", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		logger.Fatalf("migrate products schema: %v", err)
	}
	logger.Info("products repository: postgres")
	return pg, pg.Close
}

// newIssuer prefers the event topic when brokers are configured, then the
// invoices service, then a no-op.
func newIssuer(cfg config.Config, logger logrus.FieldLogger) (invoicing.Issuer, func() error) {
	switch {
	case len(cfg.KafkaBrokers) > 0:
		issuer := invoicing.NewKafkaIssuer(cfg.KafkaBrokers, cfg.InvoiceTopic)
		logger.WithField("topic", cfg.InvoiceTopic).Info("invoicing: kafka")
		return issuer, issuer.Close
	case cfg.InvoicesServiceURL != "":
		logger.WithField("url", cfg.InvoicesServiceURL).Info("invoicing: invoices service")
		return invoicing.NewHTTPIssuer(cfg.InvoicesServiceURL, cfg.UpstreamTimeout(), logger), nil
	default:
		logger.Warn("invoicing: no target configured, requests are dropped")
		return invoicing.NoopIssuer{}, nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if cfg.AuthSecret != "" && len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 characters")
	}
	if cfg.ServiceTokenSecret != "" && len(cfg.ServiceTokenSecret) < 32 {
		return fmt.Errorf("SERVICE_TOKEN_SECRET must be at least 32 characters")
	}
	if cfg.ProductsServiceURL != "" && cfg.ServiceTokenSecret == "" {
		return fmt.Errorf("SERVICE_TOKEN_SECRET must be set when PRODUCTS_SERVICE_URL is used")
	}
	if cfg.ReturnManagerPIN != "" {
		if len(cfg.ReturnManagerPIN) < 6 {
			return fmt.Errorf("RETURN_MANAGER_PIN must be at least 6 digits")
		}
		if err := validatePINStrength(cfg.ReturnManagerPIN); err != nil {
			return fmt.Errorf("RETURN_MANAGER_PIN is too weak: %w", err)
		}
	}
	if _, err := service.ParseCostPolicy(cfg.CostFallback); err != nil {
		return err
	}
	// A saga spends at most one step committing and one compensating; recovery
	// must not reach a record before both have run out.
	if cfg.RecoveryGrace() <= 2*cfg.StepTimeout() {
		return fmt.Errorf("SAGA_RECOVERY_GRACE_SECONDS (%d) must exceed twice SAGA_STEP_TIMEOUT_SECONDS (%d)", cfg.SagaRecoveryGrace, cfg.SagaStepTimeout)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit, sequential,
// or on a short list of common choices.
func validatePINStrength(pin string) error {
	common := map[string]bool{
		"000000": true, "121212": true, "112233": true, "123123": true, "696969": true,
	}
	if common[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
		}
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	switch {
	case allSame:
		return fmt.Errorf("all-same-digit PIN not allowed")
	case ascending || descending:
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
