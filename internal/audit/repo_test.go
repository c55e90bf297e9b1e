package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

func setupAuditTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	decisions := `
CREATE TABLE IF NOT EXISTS pricing_decisions (
  id TEXT PRIMARY KEY,
  quote_id TEXT NOT NULL,
  item_code TEXT NOT NULL,
  pricing_case TEXT NOT NULL,
  unit_price NUMERIC NOT NULL,
  net_supplier_cost NUMERIC NOT NULL,
  supplier_price NUMERIC NOT NULL,
  supplier_currency TEXT NOT NULL,
  fx_rate NUMERIC NOT NULL,
  discount_type TEXT,
  discount_value NUMERIC,
  margin_fraction NUMERIC NOT NULL,
  justification TEXT NOT NULL,
  confidence INTEGER NOT NULL,
  alerts TEXT,
  requires_validation INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`
	traces := `
CREATE TABLE IF NOT EXISTS decision_traces (
  id TEXT PRIMARY KEY,
  quote_id TEXT NOT NULL,
  sequence INTEGER NOT NULL,
  state TEXT NOT NULL,
  summary TEXT NOT NULL,
  justification TEXT NOT NULL DEFAULT '',
  data_sources TEXT,
  alerts TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(decisions).Error)
	require.NoError(t, db.Exec(traces).Error)

	t.Cleanup(func() {
		db.Exec("DELETE FROM pricing_decisions")
		db.Exec("DELETE FROM decision_traces")
	})
	return db
}

func decisionRecord(quoteID uuid.UUID, itemCode string) *models.PricingDecisionRecord {
	return &models.PricingDecisionRecord{
		ID:               uuid.New(),
		QuoteID:          quoteID,
		ItemCode:         itemCode,
		Case:             enums.PricingCaseNewProduct,
		UnitPrice:        decimal.RequireFromString("181.82"),
		NetSupplierCost:  decimal.NewFromInt(100),
		SupplierPrice:    decimal.NewFromInt(100),
		SupplierCurrency: "EUR",
		FxRate:           decimal.NewFromInt(1),
		MarginFraction:   decimal.RequireFromString("0.45"),
		Justification:    "never sold before",
		Confidence:       50,
	}
}

func TestRepositoryCreateAndListDecisions(t *testing.T) {
	db := setupAuditTestDB(t)
	repo := NewRepository(db)
	quoteID := uuid.New()

	require.NoError(t, repo.CreateDecision(context.Background(), decisionRecord(quoteID, "VIS-M8-100")))
	require.NoError(t, repo.CreateDecision(context.Background(), decisionRecord(quoteID, "ECR-T20-050")))
	require.NoError(t, repo.CreateDecision(context.Background(), decisionRecord(uuid.New(), "OTHER-1")))

	records, err := repo.ListDecisionsByQuoteID(context.Background(), quoteID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		require.Equal(t, quoteID, record.QuoteID)
	}
}

func TestRepositoryTraceSequenceTracking(t *testing.T) {
	db := setupAuditTestDB(t)
	repo := NewRepository(db)
	quoteID := uuid.New()

	max, err := repo.MaxTraceSequence(context.Background(), quoteID)
	require.NoError(t, err)
	require.Equal(t, 0, max)

	for seq, state := range map[int]enums.WorkflowState{
		1: enums.StateReceived,
		2: enums.StateClientIdentified,
	} {
		require.NoError(t, repo.CreateTrace(context.Background(), &models.DecisionTraceRecord{
			ID:       uuid.New(),
			QuoteID:  quoteID,
			Sequence: seq,
			State:    state,
			Summary:  "checkpoint",
		}))
	}

	max, err = repo.MaxTraceSequence(context.Background(), quoteID)
	require.NoError(t, err)
	require.Equal(t, 2, max)

	traces, err := repo.ListTracesByQuoteID(context.Background(), quoteID)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	require.Equal(t, 1, traces[0].Sequence)
	require.Equal(t, 2, traces[1].Sequence)
}

func TestRepositoryListDecisionsCreatedSince(t *testing.T) {
	db := setupAuditTestDB(t)
	repo := NewRepository(db)

	old := decisionRecord(uuid.New(), "OLD-1")
	old.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(old).Error)

	recent := decisionRecord(uuid.New(), "NEW-1")
	recent.CreatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(recent).Error)

	records, err := repo.ListDecisionsCreatedSince(context.Background(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "NEW-1", records[0].ItemCode)
}
