package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	OpsPort     string
	DatabaseURL string
	RedisURL    string
	DBMaxConns  int

	LogFormat            string
	LogLevel             string
	MetricsNamespace     string
	TracingEnabled       bool
	OTLPEndpoint         string
	TracingExporter      string
	TracingSamplingRatio float64
	PaymentProviders     []string
	// PaymentRateLimit caps provider calls per worker fleet, e.g. "20-S".
	// Empty disables the throttle.
	PaymentRateLimit string

	CartLockTTL            time.Duration
	LockRetryBackoff       time.Duration
	LockMaxWait            time.Duration
	CatalogCacheTTL        time.Duration
	PointMoneyRate         decimal.Decimal
	PricesIncludeTax       bool
	TxMaxRetries           int
	WorkerConcurrency      int
	OrderPlacementMaxRetry int
	OrderPlacementQueue    string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	rate, err := decimal.NewFromString(valueOrDefault(k.String("POINT_MONEY_RATE"), "1"))
	if err != nil {
		return nil, fmt.Errorf("POINT_MONEY_RATE: %w", err)
	}
	if !rate.IsPositive() {
		return nil, errors.New("POINT_MONEY_RATE must be positive")
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		OpsPort:     valueOrDefault(k.String("OPS_PORT"), "9090"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),
		DBMaxConns:  parseInt(k.String("DB_MAX_CONNS"), 10),

		LogFormat:            valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:             valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:     valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "marketplace"),
		TracingEnabled:       parseBool(k.String("OBS_ENABLE_TRACING")),
		OTLPEndpoint:         strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingExporter:      valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		TracingSamplingRatio: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		PaymentProviders:     splitAndTrim(valueOrDefault(k.String("PAYMENT_PROVIDERS"), "manual")),
		PaymentRateLimit:     strings.TrimSpace(k.String("PAYMENT_RATE_LIMIT")),

		CartLockTTL:            parseDuration(k.String("CART_LOCK_TTL"), "10s"),
		LockRetryBackoff:       parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		LockMaxWait:            parseDuration(k.String("LOCK_MAX_WAIT"), "5s"),
		CatalogCacheTTL:        parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		PointMoneyRate:         rate,
		PricesIncludeTax:       parseBool(k.String("PRICES_INCLUDE_TAX")),
		TxMaxRetries:           parseInt(k.String("TX_MAX_RETRIES"), 3),
		WorkerConcurrency:      parseInt(k.String("WORKER_CONCURRENCY"), 10),
		OrderPlacementMaxRetry: parseInt(k.String("ORDER_PLACEMENT_MAX_RETRY"), 8),
		OrderPlacementQueue:    valueOrDefault(k.String("ORDER_PLACEMENT_QUEUE"), "orders"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.OrderPlacementMaxRetry < 0 {
		return nil, errors.New("ORDER_PLACEMENT_MAX_RETRY must not be negative")
	}

	return cfg, nil
}

// OpsAddr returns the address the ops HTTP server should bind to.
func (c *Config) OpsAddr() string {
	port := strings.TrimSpace(c.OpsPort)
	if port == "" {
		port = "9090"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
