package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"

	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

type fakeExportRepo struct {
	decisions []models.PricingDecisionRecord
	traces    []models.DecisionTraceRecord

	decisionSince []time.Time
	traceSince    []time.Time
}

func (f *fakeExportRepo) ListDecisionsCreatedSince(_ context.Context, since time.Time, limit int) ([]models.PricingDecisionRecord, error) {
	f.decisionSince = append(f.decisionSince, since)
	return filterRecords(f.decisions, since, limit, func(r models.PricingDecisionRecord) time.Time { return r.CreatedAt }), nil
}

func (f *fakeExportRepo) ListTracesCreatedSince(_ context.Context, since time.Time, limit int) ([]models.DecisionTraceRecord, error) {
	f.traceSince = append(f.traceSince, since)
	return filterRecords(f.traces, since, limit, func(r models.DecisionTraceRecord) time.Time { return r.CreatedAt }), nil
}

func filterRecords[T any](records []T, since time.Time, limit int, createdAt func(T) time.Time) []T {
	var out []T
	for _, record := range records {
		if createdAt(record).Before(since) {
			continue
		}
		out = append(out, record)
		if len(out) >= limit {
			break
		}
	}
	return out
}

type insertCall struct {
	table string
	rows  []any
}

type fakeInserter struct {
	calls []insertCall
	errs  []error
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.calls = append(f.calls, insertCall{table: table, rows: rows})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func newTestService(t *testing.T, repo *fakeExportRepo, inserter *fakeInserter) *Service {
	t.Helper()
	cfg := &config.Config{
		BigQuery: config.BigQueryConfig{
			Dataset:            "quoteflow",
			PricingAuditTable:  "pricing_decisions",
			DecisionTraceTable: "decision_traces",
			ExportBatchSize:    10,
			ExportIntervalSecs: 60,
		},
	}
	logg := logger.New(logger.Options{ServiceName: "audit-export-test", Output: io.Discard})
	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		Repository: repo,
		Inserter:   inserter,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func sampleDecision(createdAt time.Time) models.PricingDecisionRecord {
	discountType := enums.DiscountTypePercentage
	return models.PricingDecisionRecord{
		ID:               uuid.New(),
		QuoteID:          uuid.New(),
		ItemCode:         "VIS-M8-100",
		Case:             enums.PricingCaseClientStable,
		UnitPrice:        decimal.RequireFromString("12.50"),
		NetSupplierCost:  decimal.RequireFromString("6.88"),
		SupplierPrice:    decimal.RequireFromString("7.24"),
		SupplierCurrency: "EUR",
		FxRate:           decimal.NewFromInt(1),
		DiscountType:     &discountType,
		DiscountValue:    decimal.NewNullDecimal(decimal.RequireFromString("0.05")),
		MarginFraction:   decimal.RequireFromString("0.45"),
		Justification:    "reused stable reference price",
		Confidence:       95,
		CreatedAt:        createdAt,
	}
}

func TestExportCycleStreamsDecisionsAndTraces(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeExportRepo{
		decisions: []models.PricingDecisionRecord{sampleDecision(now)},
		traces: []models.DecisionTraceRecord{{
			ID:        uuid.New(),
			QuoteID:   uuid.New(),
			Sequence:  3,
			State:     enums.StatePricingCaseSelected,
			Summary:   "pricing case selected",
			CreatedAt: now,
		}},
	}
	inserter := &fakeInserter{}
	service := newTestService(t, repo, inserter)

	if err := service.exportCycle(context.Background()); err != nil {
		t.Fatalf("exportCycle: %v", err)
	}

	if len(inserter.calls) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(inserter.calls))
	}
	if inserter.calls[0].table != "pricing_decisions" {
		t.Fatalf("unexpected first table %q", inserter.calls[0].table)
	}
	row, ok := inserter.calls[0].rows[0].(*pricingDecisionRow)
	if !ok {
		t.Fatalf("unexpected row type %T", inserter.calls[0].rows[0])
	}
	if row.UnitPrice != "12.5" {
		t.Fatalf("unexpected unit price %q", row.UnitPrice)
	}
	if row.DiscountType == nil || *row.DiscountType != string(enums.DiscountTypePercentage) {
		t.Fatalf("discount type not mapped: %v", row.DiscountType)
	}
	if inserter.calls[1].table != "decision_traces" {
		t.Fatalf("unexpected second table %q", inserter.calls[1].table)
	}

	if !service.decisionWatermark.After(now) {
		t.Fatalf("decision watermark not advanced past %s: %s", now, service.decisionWatermark)
	}

	// Second cycle starts past the exported rows and inserts nothing.
	if err := service.exportCycle(context.Background()); err != nil {
		t.Fatalf("second exportCycle: %v", err)
	}
	if len(inserter.calls) != 2 {
		t.Fatalf("expected no new inserts, got %d total", len(inserter.calls))
	}
}

func TestInsertRetriesTransientBigQueryErrors(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeExportRepo{decisions: []models.PricingDecisionRecord{sampleDecision(now)}}
	inserter := &fakeInserter{errs: []error{&googleapi.Error{Code: http.StatusServiceUnavailable}}}
	service := newTestService(t, repo, inserter)

	if err := service.exportCycle(context.Background()); err != nil {
		t.Fatalf("exportCycle: %v", err)
	}
	if len(inserter.calls) != 2 {
		t.Fatalf("expected retry after transient error, got %d calls", len(inserter.calls))
	}
}

func TestInsertAbortsOnPermanentErrorWithoutAdvancing(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeExportRepo{decisions: []models.PricingDecisionRecord{sampleDecision(now)}}
	schemaErr := &googleapi.Error{Code: http.StatusBadRequest}
	inserter := &fakeInserter{errs: []error{schemaErr}}
	service := newTestService(t, repo, inserter)

	before := service.decisionWatermark
	err := service.exportCycle(context.Background())
	if err == nil {
		t.Fatal("expected export error")
	}
	if !errors.Is(err, schemaErr) {
		t.Fatalf("expected wrapped insert error, got %v", err)
	}
	if len(inserter.calls) != 1 {
		t.Fatalf("permanent error must not be retried, got %d calls", len(inserter.calls))
	}
	if !service.decisionWatermark.Equal(before) {
		t.Fatal("watermark advanced despite failed insert")
	}
}
