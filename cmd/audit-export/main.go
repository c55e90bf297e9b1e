package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/quoteflow-io/quoteflow-backend/internal/audit"
	"github.com/quoteflow-io/quoteflow-backend/pkg/bigquery"
	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
	"github.com/quoteflow-io/quoteflow-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "audit-export"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "audit-export"

	logg = logger.New(logger.Options{
		ServiceName: "audit-export",
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

	bqClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing bigquery client", err)
		}
	}()

	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		Repository: audit.NewRepository(dbClient.DB()),
		Inserter:   bqClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create audit exporter", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "audit-export",
	})
	logg.Info(ctx, "starting audit exporter")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "audit exporter stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "audit exporter shutting down gracefully")
}
