// Package app wires the repositories, services and clients shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-marketplace/internal/cart"
	"github.com/noah-isme/toko-marketplace/internal/catalog"
	"github.com/noah-isme/toko-marketplace/internal/checkout"
	"github.com/noah-isme/toko-marketplace/internal/config"
	"github.com/noah-isme/toko-marketplace/internal/discount"
	"github.com/noah-isme/toko-marketplace/internal/events"
	"github.com/noah-isme/toko-marketplace/internal/lock"
	"github.com/noah-isme/toko-marketplace/internal/obs"
	"github.com/noah-isme/toko-marketplace/internal/order"
	"github.com/noah-isme/toko-marketplace/internal/payment"
	"github.com/noah-isme/toko-marketplace/internal/points"
	"github.com/noah-isme/toko-marketplace/internal/pricing"
	"github.com/noah-isme/toko-marketplace/internal/ratelimit"
	"github.com/noah-isme/toko-marketplace/internal/repo"
	"github.com/noah-isme/toko-marketplace/internal/resilience"
)

// Dependencies enumerates the services shared across the binaries.
type Dependencies struct {
	DB              *pgxpool.Pool
	Redis           *redis.Client
	Validator       *validator.Validate
	TaskClient      *asynq.Client
	MetricsRegistry *prometheus.Registry
	Logger          *zerolog.Logger

	Queries   *repo.Queries
	Events    *events.Bus
	Catalog   *catalog.Loader
	Cart      *cart.Service
	Checkout  *checkout.Service
	Payments  *payment.Service
	Placement *order.PlacementService
}

// NewPool connects a pgx pool with query tracing.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis connects an instrumented redis client.
func NewRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisConnOpt returns the asynq connection options matching the redis url.
func RedisConnOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	return asynq.ParseRedisURI(cfg.RedisURL)
}

// Build wires every service on top of the given clients.
func Build(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, taskClient *asynq.Client, reg *prometheus.Registry, logger *zerolog.Logger) (*Dependencies, error) {
	if pool == nil || rdb == nil {
		return nil, errors.New("app: database and redis are required")
	}
	queries := repo.New(pool)
	tx := repo.Transactor{Pool: pool, MaxRetries: cfg.TxMaxRetries, Logger: logger}
	locker := lock.Locker{R: rdb, RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.LockMaxWait}
	validate := validator.New()

	bus := &events.Bus{
		Store:     queries,
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}},
	}
	if taskClient != nil {
		bus.Scheduler = events.AsynqScheduler{
			Client:   taskClient,
			Queue:    cfg.OrderPlacementQueue,
			MaxRetry: cfg.OrderPlacementMaxRetry,
		}
	}

	loader := &catalog.Loader{
		Q:      queries,
		Cache:  catalog.NewCache(rdb, cfg.CatalogCacheTTL),
		Logger: logger,
	}
	opts := pricing.Options{
		IncludesTax: cfg.PricesIncludeTax,
		Points:      points.NewConverter(cfg.PointMoneyRate),
	}
	discounts := &discount.Service{Q: queries}
	pointSvc := &points.Service{Q: queries}

	providers := make(map[string]payment.Provider, len(cfg.PaymentProviders))
	for _, name := range cfg.PaymentProviders {
		switch name {
		case "manual":
			providers[name] = &payment.ManualProvider{}
		default:
			obs.LoggerOrNop(logger).Warn().Str("provider", name).Msg("unknown payment provider ignored")
		}
	}
	var throttle payment.Throttler
	if cfg.PaymentRateLimit != "" {
		t, err := ratelimit.NewRedis(rdb, "ratelimit:payment", cfg.PaymentRateLimit)
		if err != nil {
			return nil, fmt.Errorf("PAYMENT_RATE_LIMIT: %w", err)
		}
		throttle = t
	}
	payments := &payment.Service{
		Q:         queries,
		Providers: providers,
		Throttle:  throttle,
		Caller:    resilience.Caller{MaxAttempts: 3, BaseBackoff: cfg.LockRetryBackoff, Jitter: 0.2},
		Breaker:   resilience.BreakerConfig{Logger: logger},
		Logger:    logger,
	}

	return &Dependencies{
		DB:              pool,
		Redis:           rdb,
		Validator:       validate,
		TaskClient:      taskClient,
		MetricsRegistry: reg,
		Logger:          logger,
		Queries:         queries,
		Events:          bus,
		Catalog:         loader,
		Cart: &cart.Service{
			Q:         queries,
			Tx:        tx,
			Locker:    locker,
			Catalog:   loader,
			Discounts: discounts,
			Points:    pointSvc,
			Events:    bus,
			Options:   opts,
			LockTTL:   cfg.CartLockTTL,
			Validate:  validate,
			Logger:    logger,
		},
		Checkout: &checkout.Service{
			Q:        queries,
			Tx:       tx,
			Locker:   locker,
			Catalog:  loader,
			Events:   bus,
			Options:  opts,
			LockTTL:  cfg.CartLockTTL,
			Validate: validate,
			Logger:   logger,
		},
		Payments: payments,
		Placement: &order.PlacementService{
			Q:        queries,
			Tx:       tx,
			Locker:   locker,
			Catalog:  loader,
			Points:   pointSvc,
			Promos:   discounts,
			Payments: payments,
			SagaLog:  repo.SagaLog{Q: queries},
			Events:   bus,
			Options:  opts,
			Logger:   logger,
		},
	}, nil
}
