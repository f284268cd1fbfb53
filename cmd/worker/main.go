package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-marketplace/internal/app"
	"github.com/noah-isme/toko-marketplace/internal/config"
	"github.com/noah-isme/toko-marketplace/internal/events"
	"github.com/noah-isme/toko-marketplace/internal/health"
	"github.com/noah-isme/toko-marketplace/internal/obs"
	"github.com/noah-isme/toko-marketplace/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().
		Str("component", "worker").Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "marketplace-worker",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, registry)
	resilience.MustRegisterMetrics(registry)
	taskMetrics := obs.NewTaskMetrics(cfg.MetricsNamespace, registry)

	pool, err := app.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("database")
	}
	defer pool.Close()

	redisClient, err := app.NewRedis(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	connOpt, err := app.RedisConnOpt(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis url")
	}
	taskClient := asynq.NewClient(connOpt)
	defer taskClient.Close()

	deps, err := app.Build(cfg, pool, redisClient, taskClient, registry, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("wire services")
	}

	srv := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{cfg.OrderPlacementQueue: 1},
		Logger:      asynqLogger{logger: logger.With().Str("subsystem", "asynq").Logger()},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error().Err(err).Str("task_type", task.Type()).
				Int("retry", retried).Int("max_retry", maxRetry).Msg("task failed")
		}),
	})
	mux := asynq.NewServeMux()
	mux.Use(obs.TaskObs{Metrics: taskMetrics, Logger: &logger}.Middleware)
	mux.HandleFunc(events.TaskOrderPlaced, deps.Placement.HandleOrderPlaced)

	opsServer := &http.Server{
		Addr:              cfg.OpsAddr(),
		Handler:           otelhttp.NewHandler(opsRouter(deps, registry), "worker.ops"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", opsServer.Addr).Msg("ops server listening")
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("ops server stopped")
		}
	}()

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Str("queue", cfg.OrderPlacementQueue).Msg("worker started")

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("worker shutting down")
	srv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown ops server")
	}
	logger.Info().Msg("worker shutdown complete")
}

func opsRouter(deps *app.Dependencies, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	healthHandler := health.Handler{Checker: health.Dependencies{DB: deps.DB, Redis: deps.Redis}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return r
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
