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
	"github.com/quoteflow-io/quoteflow-backend/internal/consumers"
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
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox/idempotency"
	"github.com/quoteflow-io/quoteflow-backend/pkg/pubsub"
	"github.com/quoteflow-io/quoteflow-backend/pkg/redis"
)

// processedMessageTTL bounds how long a delivered message ID is remembered.
// Pub/Sub redeliveries land well within this window.
const processedMessageTTL = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
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

	pricingCache := pricing.NewRedisCache(redisClient, cfg.Pricing.CacheTTL, logg)
	pricer, err := pricing.NewEngine(histories, currencies, discounts, pricingCache, cfg.Pricing, logg, quoteMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create pricing engine", err)
		os.Exit(1)
	}

	outboxer := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	quoteRepo := quotes.NewRepository(dbClient.DB())
	quoteService, err := quotes.NewService(quoteRepo, dbClient, outboxer, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create quote service", err)
		os.Exit(1)
	}
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

	guard, err := idempotency.NewManager(redisClient, processedMessageTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency guard", err)
		os.Exit(1)
	}
	consumer, err := consumers.NewQuoteRequestConsumer(
		quoteService,
		engine,
		guard,
		pubsubClient.QuoteRequestSubscription(),
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create quote request consumer", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "worker",
	})
	logg.Info(ctx, "starting quote request worker")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(":"+cfg.App.Port, metricsMux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "quote request worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "quote request worker shutting down gracefully")
}
