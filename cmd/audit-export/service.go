package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"

	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

const (
	defaultExportBatch    = 200
	defaultExportInterval = time.Minute
	exportLookback        = 24 * time.Hour

	insertInitialBackoff = 250 * time.Millisecond
	insertMaxBackoff     = 2 * time.Second
	insertMaxRetries     = 3
)

// pricingDecisionRow mirrors the pricing_decisions BigQuery schema. Money
// fields travel as strings so NUMERIC columns keep their full precision.
type pricingDecisionRow struct {
	DecisionID         string    `bigquery:"decision_id"`
	QuoteID            string    `bigquery:"quote_id"`
	ItemCode           string    `bigquery:"item_code"`
	PricingCase        string    `bigquery:"pricing_case"`
	UnitPrice          string    `bigquery:"unit_price"`
	NetSupplierCost    string    `bigquery:"net_supplier_cost"`
	SupplierPrice      string    `bigquery:"supplier_price"`
	SupplierCurrency   string    `bigquery:"supplier_currency"`
	FxRate             string    `bigquery:"fx_rate"`
	DiscountType       *string   `bigquery:"discount_type"`
	DiscountValue      *string   `bigquery:"discount_value"`
	MarginFraction     string    `bigquery:"margin_fraction"`
	Justification      string    `bigquery:"justification"`
	Confidence         int64     `bigquery:"confidence"`
	Alerts             []string  `bigquery:"alerts"`
	RequiresValidation bool      `bigquery:"requires_validation"`
	CreatedAt          time.Time `bigquery:"created_at"`
}

// decisionTraceRow mirrors the decision_traces BigQuery schema.
type decisionTraceRow struct {
	TraceID       string    `bigquery:"trace_id"`
	QuoteID       string    `bigquery:"quote_id"`
	Sequence      int64     `bigquery:"sequence"`
	State         string    `bigquery:"state"`
	Summary       string    `bigquery:"summary"`
	Justification string    `bigquery:"justification"`
	DataSources   []string  `bigquery:"data_sources"`
	Alerts        []string  `bigquery:"alerts"`
	CreatedAt     time.Time `bigquery:"created_at"`
}

type exportRepository interface {
	ListDecisionsCreatedSince(ctx context.Context, since time.Time, limit int) ([]models.PricingDecisionRecord, error)
	ListTracesCreatedSince(ctx context.Context, since time.Time, limit int) ([]models.DecisionTraceRecord, error)
}

type rowInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// ServiceParams wires the audit exporter.
type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	Repository exportRepository
	Inserter   rowInserter
	Now        func() time.Time
}

// Service tails the pricing audit tables and streams new rows into BigQuery.
// Export is at-least-once: a cycle that fails midway re-reads from the last
// durable watermark on the next tick.
type Service struct {
	cfg       config.BigQueryConfig
	logg      *logger.Logger
	repo      exportRepository
	inserter  rowInserter
	now       func() time.Time
	batchSize int
	interval  time.Duration

	decisionWatermark time.Time
	traceWatermark    time.Time
}

// NewService validates params and applies config fallbacks.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Repository == nil {
		return nil, errors.New("audit repository is required")
	}
	if params.Inserter == nil {
		return nil, errors.New("bigquery inserter is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	batch := params.Config.BigQuery.ExportBatchSize
	if batch <= 0 {
		batch = defaultExportBatch
	}
	interval := time.Duration(params.Config.BigQuery.ExportIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultExportInterval
	}

	start := now().UTC().Add(-exportLookback)
	return &Service{
		cfg:               params.Config.BigQuery,
		logg:              params.Logger,
		repo:              params.Repository,
		inserter:          params.Inserter,
		now:               now,
		batchSize:         batch,
		interval:          interval,
		decisionWatermark: start,
		traceWatermark:    start,
	}, nil
}

// Run exports on a fixed cadence until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.exportCycle(ctx); err != nil {
		s.logg.Error(ctx, "audit export cycle failed", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.exportCycle(ctx); err != nil {
				s.logg.Error(ctx, "audit export cycle failed", err)
			}
		}
	}
}

func (s *Service) exportCycle(ctx context.Context) error {
	decisions, err := s.exportDecisions(ctx)
	if err != nil {
		return err
	}
	traces, err := s.exportTraces(ctx)
	if err != nil {
		return err
	}
	if decisions == 0 && traces == 0 {
		return nil
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"decisions": decisions,
		"traces":    traces,
	})
	s.logg.Info(logCtx, "audit rows exported")
	return nil
}

func (s *Service) exportDecisions(ctx context.Context) (int, error) {
	exported := 0
	for {
		records, err := s.repo.ListDecisionsCreatedSince(ctx, s.decisionWatermark, s.batchSize)
		if err != nil {
			return exported, fmt.Errorf("list pricing decisions: %w", err)
		}
		if len(records) == 0 {
			return exported, nil
		}

		rows := make([]any, len(records))
		for i, record := range records {
			rows[i] = decisionRowFromRecord(record)
		}
		if err := s.insertWithRetry(ctx, s.cfg.PricingAuditTable, rows); err != nil {
			return exported, err
		}

		exported += len(records)
		s.decisionWatermark = nextWatermark(s.decisionWatermark, records[len(records)-1].CreatedAt)
		if len(records) < s.batchSize {
			return exported, nil
		}
	}
}

func (s *Service) exportTraces(ctx context.Context) (int, error) {
	exported := 0
	for {
		records, err := s.repo.ListTracesCreatedSince(ctx, s.traceWatermark, s.batchSize)
		if err != nil {
			return exported, fmt.Errorf("list decision traces: %w", err)
		}
		if len(records) == 0 {
			return exported, nil
		}

		rows := make([]any, len(records))
		for i, record := range records {
			rows[i] = traceRowFromRecord(record)
		}
		if err := s.insertWithRetry(ctx, s.cfg.DecisionTraceTable, rows); err != nil {
			return exported, err
		}

		exported += len(records)
		s.traceWatermark = nextWatermark(s.traceWatermark, records[len(records)-1].CreatedAt)
		if len(records) < s.batchSize {
			return exported, nil
		}
	}
}

func (s *Service) insertWithRetry(ctx context.Context, table string, rows []any) error {
	backoff := retry.WithCappedDuration(insertMaxBackoff, retry.NewExponential(insertInitialBackoff))
	backoff = retry.WithMaxRetries(insertMaxRetries, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.inserter.InsertRows(ctx, table, rows); err != nil {
			if isRetryableInsertError(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert %s rows: %w", table, err)
	}
	return nil
}

// nextWatermark advances past the newest exported row. The repository query
// is inclusive on created_at, so the nanosecond bump keeps already-exported
// rows out of the next cycle.
func nextWatermark(current, newest time.Time) time.Time {
	if !newest.After(current) {
		return current.Add(time.Nanosecond)
	}
	return newest.Add(time.Nanosecond)
}

func decisionRowFromRecord(record models.PricingDecisionRecord) *pricingDecisionRow {
	row := &pricingDecisionRow{
		DecisionID:         record.ID.String(),
		QuoteID:            record.QuoteID.String(),
		ItemCode:           record.ItemCode,
		PricingCase:        string(record.Case),
		UnitPrice:          record.UnitPrice.String(),
		NetSupplierCost:    record.NetSupplierCost.String(),
		SupplierPrice:      record.SupplierPrice.String(),
		SupplierCurrency:   record.SupplierCurrency,
		FxRate:             record.FxRate.String(),
		MarginFraction:     record.MarginFraction.String(),
		Justification:      record.Justification,
		Confidence:         int64(record.Confidence),
		Alerts:             record.Alerts,
		RequiresValidation: record.RequiresValidation,
		CreatedAt:          record.CreatedAt,
	}
	if record.DiscountType != nil {
		discountType := string(*record.DiscountType)
		row.DiscountType = &discountType
	}
	if record.DiscountValue.Valid {
		discountValue := record.DiscountValue.Decimal.String()
		row.DiscountValue = &discountValue
	}
	return row
}

func traceRowFromRecord(record models.DecisionTraceRecord) *decisionTraceRow {
	return &decisionTraceRow{
		TraceID:       record.ID.String(),
		QuoteID:       record.QuoteID.String(),
		Sequence:      int64(record.Sequence),
		State:         string(record.State),
		Summary:       record.Summary,
		Justification: record.Justification,
		DataSources:   record.DataSources,
		Alerts:        record.Alerts,
		CreatedAt:     record.CreatedAt,
	}
}

func isRetryableInsertError(err error) bool {
	if err == nil {
		return false
	}

	var multi cbigquery.PutMultiError
	if errors.As(err, &multi) {
		if len(multi) == 0 {
			return false
		}
		for _, rowErr := range multi {
			if !isRetryableInsertError(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var rowErrs cbigquery.MultiError
	if errors.As(err, &rowErrs) {
		if len(rowErrs) == 0 {
			return false
		}
		for _, inner := range rowErrs {
			if !isRetryableInsertError(inner) {
				return false
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	return errors.Is(err, context.DeadlineExceeded)
}
