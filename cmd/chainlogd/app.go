package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/chainlog/internal/api"
	"github.com/onnwee/chainlog/internal/chainlog"
	"github.com/onnwee/chainlog/internal/config"
	"github.com/onnwee/chainlog/internal/health"
	"github.com/onnwee/chainlog/internal/idempotency"
	"github.com/onnwee/chainlog/internal/middleware"
	"github.com/onnwee/chainlog/internal/mirror"
	"github.com/onnwee/chainlog/internal/monitor"
	"github.com/onnwee/chainlog/internal/tracing"
)

const serviceName = "chainlogd"

// Intervals for dropping expired in-memory rate limit buckets and
// idempotency keys.
const (
	rateLimitCleanupInterval   = 5 * time.Minute
	idempotencyCleanupInterval = time.Hour
)

// app holds the wired service and everything that must be released on exit.
type app struct {
	log      *chainlog.Log
	handler  http.Handler
	registry *prometheus.Registry
	monitor  *monitor.Monitor
	tracer   *tracing.Provider
	logger   *slog.Logger

	background []func(ctx context.Context)
	closers    []func() error
}

// newApp builds the log, mirrors, metrics, monitor and HTTP handler from cfg.
// A configured mirror that cannot be reached is a startup error.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector())

	chainMetrics := chainlog.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	monitorMetrics := monitor.NewMetrics()
	for _, register := range []func(prometheus.Registerer) error{
		chainMetrics.Register, httpMetrics.Register, monitorMetrics.Register,
	} {
		if err := register(a.registry); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	a.tracer, err = tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.log, err = chainlog.New(chainlog.Config{
		Path:      cfg.RegistryFile,
		Algorithm: cfg.DigestAlgorithm,
		Sync:      cfg.SyncWrites,
		Logger:    logger,
		Metrics:   chainMetrics,
	})
	if err != nil {
		return nil, err
	}

	healthCfg := api.HealthHandlersConfig{
		LogFileChecker: health.NewLogFileChecker(cfg.RegistryFile),
	}

	var repos []mirror.Repository
	if cfg.DatabaseURL != "" {
		db, err := mirror.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		repos = append(repos, mirror.NewPostgresRepository(db))
		healthCfg.DBChecker = health.NewDBChecker(db)
		logger.Info("postgres mirror enabled")
	}

	var store middleware.RateLimitStore
	var keys idempotency.Repository
	if cfg.RedisURL != "" {
		client, err := mirror.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		repos = append(repos, mirror.NewRedisRepository(client, ""))
		healthCfg.RedisChecker = health.NewRedisChecker(client)

		redisStore := middleware.NewRedisRateLimitStore(client)
		redisStore.OnError(func(err error) {
			httpMetrics.IncRateLimitStoreErrors()
			logger.Warn("rate limit store unavailable, allowing request", "error", err)
		})
		store = redisStore
		keys = idempotency.NewRedisRepository(client, idempotency.DefaultExpiry)
		logger.Info("redis mirror enabled")
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		a.background = append(a.background, func(ctx context.Context) {
			ticker := time.NewTicker(rateLimitCleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					memStore.Cleanup()
				}
			}
		})
		store = memStore

		memKeys := idempotency.NewInMemoryRepository()
		a.background = append(a.background, func(ctx context.Context) {
			idempotency.RunPeriodicCleanup(ctx, memKeys, idempotencyCleanupInterval, idempotency.DefaultExpiry)
		})
		keys = memKeys
	}

	fanout, err := mirror.NewFanout(logger, repos...)
	if err != nil {
		return nil, err
	}

	if err := a.startLog(ctx, fanout); err != nil {
		return nil, err
	}

	if cfg.VerifyIntervalSeconds > 0 || cfg.WatchFile {
		a.monitor = monitor.New(monitor.Config{
			Interval: time.Duration(cfg.VerifyIntervalSeconds) * time.Second,
			Watch:    cfg.WatchFile,
			Logger:   logger,
			Metrics:  monitorMetrics,
		}, a.log)
	}

	// Rate limiting runs before idempotency so that replays count too.
	appendMiddleware := middleware.Idempotency(keys, api.MaxAppendBodyBytes)
	if cfg.RateLimitPerMinute > 0 {
		limiter := middleware.RateLimiter(store, middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimitPerMinute,
			WindowDuration:    time.Minute,
		}, middleware.IPKeyFunc(), httpMetrics)
		idem := appendMiddleware
		appendMiddleware = func(next http.Handler) http.Handler {
			return limiter(idem(next))
		}
	}

	mux := api.NewRouter(api.RouterConfig{
		Log:              api.NewLogHandlers(a.log, fanout, logger),
		Health:           api.NewHealthHandlers(healthCfg),
		Metrics:          promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}),
		AppendMiddleware: appendMiddleware,
	})

	// RequestID -> Logging -> HTTPMetrics -> Tracing -> routes
	a.handler = middleware.RequestID(
		middleware.Logging(logger)(
			middleware.HTTPMetrics(httpMetrics)(
				middleware.Tracing(serviceName)(mux),
			),
		),
	)
	return a, nil
}

// startLog initializes the backing file, mirrors a fresh bootstrap line and
// reports the integrity of what is already on disk. A broken chain is logged
// but does not stop the service.
func (a *app) startLog(ctx context.Context, fanout *mirror.Fanout) error {
	bootstrap, err := a.log.Initialize()
	if err != nil {
		return fmt.Errorf("failed to initialize log: %w", err)
	}
	if bootstrap != "" {
		if entry, ok := a.log.Codec().Parse(bootstrap); ok {
			_ = fanout.Mirror(ctx, mirror.FromEntry(&entry))
		}
	}

	result, err := a.log.Verify()
	if err != nil {
		return fmt.Errorf("failed to verify log: %w", err)
	}
	if result.Valid {
		a.logger.Info("log file intact",
			"path", a.log.Path(),
			"algorithm", a.log.Algorithm(),
			"entries", result.Entries,
		)
	} else {
		a.logger.Error("log file modified or corrupt",
			"path", a.log.Path(),
			"position", result.Position,
			"line", result.Line,
			"reason", result.Reason,
		)
	}
	return nil
}

// Start launches the monitor and background maintenance. They stop when ctx
// is cancelled.
func (a *app) Start(ctx context.Context) error {
	for _, fn := range a.background {
		go fn(ctx)
	}
	if a.monitor != nil {
		if err := a.monitor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start monitor: %w", err)
		}
	}
	return nil
}

// Close stops the monitor, flushes traces and closes mirror connections.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer: %w", err))
		}
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
