package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quoteflow-io/quoteflow-backend/internal/audit"
	"github.com/quoteflow-io/quoteflow-backend/internal/cron"
	"github.com/quoteflow-io/quoteflow-backend/internal/currency"
	"github.com/quoteflow-io/quoteflow-backend/internal/discount"
	"github.com/quoteflow-io/quoteflow-backend/internal/history"
	"github.com/quoteflow-io/quoteflow-backend/internal/pricing"
	"github.com/quoteflow-io/quoteflow-backend/internal/quotes"
	"github.com/quoteflow-io/quoteflow-backend/internal/reference"
	"github.com/quoteflow-io/quoteflow-backend/internal/transport"
	"github.com/quoteflow-io/quoteflow-backend/internal/validation"
	"github.com/quoteflow-io/quoteflow-backend/internal/workflow"
	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
	"github.com/quoteflow-io/quoteflow-backend/pkg/metrics"
	"github.com/quoteflow-io/quoteflow-backend/pkg/migrate"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox"
	"github.com/quoteflow-io/quoteflow-backend/pkg/redis"
)

const (
	cronInterval = time.Hour
	cronLockTTL  = 90 * time.Minute
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	quoteMetrics := metrics.NewQuoteMetrics(prometheus.DefaultRegisterer)

	refs, err := reference.NewService(cfg.Services, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create reference service", err)
		os.Exit(1)
	}
	histories, err := history.NewService(cfg.Services, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create history service", err)
		os.Exit(1)
	}
	currencies, err := currency.NewService(cfg.Services, cfg.Pricing.BaseCurrency, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create currency service", err)
		os.Exit(1)
	}
	discounts, err := discount.NewService(cfg.Services, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create discount service", err)
		os.Exit(1)
	}
	transports, err := transport.NewService(cfg.Services, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create transport service", err)
		os.Exit(1)
	}

	pricingCache := pricing.NewMemoryCache(cfg.Pricing.CacheMaxEntries, cfg.Pricing.CacheTTL)
	pricer, err := pricing.NewEngine(histories, currencies, discounts, pricingCache, cfg.Pricing, logg, quoteMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create pricing engine", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxer := outbox.NewService(outboxRepo, logg)

	quoteRepo := quotes.NewRepository(dbClient.DB())
	auditService, err := audit.NewService(audit.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create audit service", err)
		os.Exit(1)
	}
	validationService, err := validation.NewService(validation.NewRepository(dbClient.DB()), dbClient, outboxer, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create validation service", err)
		os.Exit(1)
	}
	engine, err := workflow.NewEngine(
		quoteRepo,
		dbClient,
		auditService,
		validationService,
		outboxer,
		pricer,
		refs,
		histories,
		transports,
		cfg.Pricing,
		logg,
		quoteMetrics,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create workflow engine", err)
		os.Exit(1)
	}

	expiryJob, err := cron.NewValidationExpiryJob(cron.ValidationExpiryJobParams{
		Logger:      logg,
		Validations: validationService,
		Workflow:    engine,
		PendingTTL:  cfg.Validation.PendingTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create validation expiry job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), cronLockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob, retentionJob),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cronInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "cron-worker",
	})
	logg.Info(ctx, "starting cron worker")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(":"+cfg.App.Port, metricsMux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
