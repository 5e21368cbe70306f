package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CostFallbackFail is the default cost policy: a missing cost aborts the sale.
const CostFallbackFail = "fail"

type Config struct {
	Port                 string
	StockPort            string
	AllowedOrigin        string
	DatabaseURL          string
	ProductsDatabaseURL  string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	PriceCacheTTLSeconds int
	ProductsServiceURL   string
	InvoicesServiceURL   string
	UpstreamTimeoutSecs  int
	DisableInvoicing     bool
	InvoiceWorkers       int
	InvoiceQueueSize     int
	CostFallback         string
	SagaJournalPath      string
	SagaRecoveryInterval int
	SagaRecoveryGrace    int
	SagaStepTimeout      int
	KafkaBrokers         []string
	InvoiceTopic         string
	AuthSecret           string
	ServiceTokenSecret   string
	ReturnManagerPIN     string
	LogLevel             string
	OTLPEndpoint         string
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                 getEnv("PORT", "8080"),
		StockPort:            getEnv("STOCK_PORT", "8081"),
		AllowedOrigin:        getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		ProductsDatabaseURL:  os.Getenv("PRODUCTS_DATABASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              redisDB,
		PriceCacheTTLSeconds: positiveInt("PRICE_CACHE_TTL_SECONDS", 30),
		ProductsServiceURL:   strings.TrimRight(strings.TrimSpace(os.Getenv("PRODUCTS_SERVICE_URL")), "/"),
		InvoicesServiceURL:   strings.TrimRight(strings.TrimSpace(os.Getenv("INVOICES_SERVICE_URL")), "/"),
		UpstreamTimeoutSecs:  positiveInt("UPSTREAM_TIMEOUT_SECONDS", 10),
		DisableInvoicing:     parseBool(os.Getenv("DISABLE_INVOICING")),
		InvoiceWorkers:       positiveInt("INVOICE_WORKERS", 4),
		InvoiceQueueSize:     positiveInt("INVOICE_QUEUE_SIZE", 256),
		CostFallback:         strings.ToLower(strings.TrimSpace(getEnv("COST_FALLBACK", CostFallbackFail))),
		SagaJournalPath:      getEnv("SAGA_JOURNAL_PATH", "./data/saga.db"),
		SagaRecoveryInterval: positiveInt("SAGA_RECOVERY_INTERVAL_SECONDS", 60),
		SagaRecoveryGrace:    positiveInt("SAGA_RECOVERY_GRACE_SECONDS", 30),
		SagaStepTimeout:      positiveInt("SAGA_STEP_TIMEOUT_SECONDS", 10),
		KafkaBrokers:         splitList(os.Getenv("KAFKA_BROKERS")),
		InvoiceTopic:         getEnv("INVOICE_TOPIC", "invoice.requested"),
		AuthSecret:           strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		ServiceTokenSecret:   strings.TrimSpace(os.Getenv("SERVICE_TOKEN_SECRET")),
		ReturnManagerPIN:     strings.TrimSpace(os.Getenv("RETURN_MANAGER_PIN")),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		OTLPEndpoint:         strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) StockAddress() string {
	return fmt.Sprintf(":%s", c.StockPort)
}

func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSecs) * time.Second
}

func (c Config) PriceCacheTTL() time.Duration {
	return time.Duration(c.PriceCacheTTLSeconds) * time.Second
}

func (c Config) RecoveryInterval() time.Duration {
	return time.Duration(c.SagaRecoveryInterval) * time.Second
}

func (c Config) RecoveryGrace() time.Duration {
	return time.Duration(c.SagaRecoveryGrace) * time.Second
}

// StepTimeout bounds each detached saga step: journal write plus local
// commit, and compensation.
func (c Config) StepTimeout() time.Duration {
	return time.Duration(c.SagaStepTimeout) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func parseBool(val string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	return err == nil && b
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
