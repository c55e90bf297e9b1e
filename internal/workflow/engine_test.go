package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/quoteflow-io/quoteflow-backend/internal/audit"
	"github.com/quoteflow-io/quoteflow-backend/internal/history"
	"github.com/quoteflow-io/quoteflow-backend/internal/justification"
	"github.com/quoteflow-io/quoteflow-backend/internal/pricing"
	"github.com/quoteflow-io/quoteflow-backend/internal/quotes"
	"github.com/quoteflow-io/quoteflow-backend/internal/reference"
	"github.com/quoteflow-io/quoteflow-backend/internal/transport"
	"github.com/quoteflow-io/quoteflow-backend/internal/validation"
	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
	"github.com/quoteflow-io/quoteflow-backend/pkg/errors"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox"
)

const workflowTestDDL = `
CREATE TABLE IF NOT EXISTS quote_drafts (
  id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  client_ref TEXT NOT NULL,
  customer_code TEXT,
  customer_name TEXT,
  customer_email TEXT,
  customer_is_new INTEGER NOT NULL DEFAULT 0,
  customer_confidence INTEGER,
  state TEXT NOT NULL,
  requires_manual_validation INTEGER NOT NULL DEFAULT 0,
  validation_reasons TEXT,
  transport_carrier TEXT,
  transport_cost NUMERIC NOT NULL DEFAULT 0,
  transport_lead_days INTEGER,
  transport_reliability REAL,
  transport_selected_reason TEXT,
  transport_alternatives TEXT,
  product_subtotal NUMERIC NOT NULL DEFAULT 0,
  total_ht NUMERIC NOT NULL DEFAULT 0,
  tax_rate NUMERIC NOT NULL DEFAULT 0,
  total_ttc NUMERIC NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'EUR',
  failure_step TEXT,
  failure_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  terminal_at DATETIME
);
CREATE TABLE IF NOT EXISTS quote_line_items (
  id TEXT PRIMARY KEY,
  quote_id TEXT NOT NULL,
  item_code TEXT NOT NULL,
  display_name TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit TEXT NOT NULL DEFAULT 'unit',
  weight_kg REAL,
  origin TEXT NOT NULL,
  supplier_code TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  exclusion_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
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
);
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
);
CREATE TABLE IF NOT EXISTS validation_requests (
  id TEXT PRIMARY KEY,
  quote_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  decision TEXT,
  actor TEXT,
  reason TEXT,
  price_overrides TEXT,
  created_at DATETIME,
  decided_at DATETIME
);
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  published_at DATETIME,
  created_at DATETIME
);`

type fakeReference struct {
	customer    *reference.Customer
	confidence  int
	resolveErr  error
	createdCode string
	products    map[string]*reference.CatalogItem
	productErr  error
}

func (f *fakeReference) ResolveCustomer(ctx context.Context, nameOrEmail string) (*reference.Customer, int, error) {
	if f.resolveErr != nil {
		return nil, 0, f.resolveErr
	}
	return f.customer, f.confidence, nil
}

func (f *fakeReference) CreateCustomer(ctx context.Context, name, email string) (*reference.Customer, error) {
	return &reference.Customer{Code: f.createdCode, Name: name, Email: email, IsNew: true}, nil
}

func (f *fakeReference) ResolveProduct(ctx context.Context, codeOrDescription string) (*reference.CatalogItem, int, error) {
	if f.productErr != nil {
		return nil, 0, f.productErr
	}
	item, ok := f.products[codeOrDescription]
	if !ok {
		return nil, 0, nil
	}
	return item, 100, nil
}

type fakeHistory struct {
	snapshots map[string]*history.Snapshot
	err       error
}

func (f *fakeHistory) Lookup(ctx context.Context, itemCode, customerCode string) (*history.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	snapshot, ok := f.snapshots[itemCode]
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s", itemCode)
	}
	return snapshot, nil
}

type fakeTransport struct {
	options []transport.Option
	err     error
}

func (f *fakeTransport) Quote(ctx context.Context, weightKG float64, destination string) ([]transport.Option, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.options, nil
}

type fakePricer struct {
	decisions map[string]*pricing.Decision
	err       error
}

func (f *fakePricer) Price(ctx context.Context, req pricing.Request) (*pricing.Decision, error) {
	if f.err != nil {
		return nil, f.err
	}
	decision, ok := f.decisions[req.ItemCode]
	if !ok {
		return nil, fmt.Errorf("no canned decision for %s", req.ItemCode)
	}
	out := *decision
	out.Quantity = req.Quantity
	out.CustomerCode = req.CustomerCode
	return &out, nil
}

type workflowHarness struct {
	engine      Engine
	client      *db.Client
	repo        quotes.Repository
	auditor     audit.Service
	validations validation.Service
	refs        *fakeReference
	histories   *fakeHistory
	transports  *fakeTransport
	pricer      *fakePricer
}

func setupWorkflow(t *testing.T, opts ...Option) *workflowHarness {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(workflowTestDDL).Error)
	t.Cleanup(func() {
		for _, table := range []string{
			"quote_drafts", "quote_line_items", "pricing_decisions",
			"decision_traces", "validation_requests", "outbox_events",
		} {
			conn.Exec("DELETE FROM " + table)
		}
	})

	client, err := db.New(context.Background(), config.DBConfig{
		Driver: "sqlite",
		DSN:    "file::memory:?cache=shared",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	logg := logger.New(logger.Options{ServiceName: "workflow-test", Output: io.Discard})
	outboxer := outbox.NewService(outbox.NewRepository(client.DB()), logg)
	auditor, err := audit.NewService(audit.NewRepository(client.DB()))
	require.NoError(t, err)
	validations, err := validation.NewService(validation.NewRepository(client.DB()), client, outboxer, logg)
	require.NoError(t, err)

	weight := 1.5
	refs := &fakeReference{
		customer:    &reference.Customer{Code: "CUST-042", Name: "Ateliers Brunel"},
		confidence:  100,
		createdCode: "CUST-900",
		products: map[string]*reference.CatalogItem{
			"VIS-M8-100": {
				Code:          "VIS-M8-100",
				DisplayName:   "Vis M8x100",
				Unit:          "unit",
				WeightKG:      &weight,
				SupplierCodes: []string{"SUP-001"},
			},
		},
	}
	histories := &fakeHistory{snapshots: map[string]*history.Snapshot{
		"VIS-M8-100": {
			ItemCode:         "VIS-M8-100",
			SupplierCode:     "SUP-001",
			SupplierPrice:    decimal.NewFromInt(100),
			SupplierCurrency: "EUR",
		},
	}}
	transports := &fakeTransport{options: []transport.Option{
		{Carrier: "Translog", Cost: decimal.RequireFromString("45.00"), LeadDays: 3, Reliability: 0.97},
		{Carrier: "Rapidex", Cost: decimal.RequireFromString("62.00"), LeadDays: 1, Reliability: 0.99},
	}}
	pricer := &fakePricer{decisions: map[string]*pricing.Decision{
		"VIS-M8-100": cannedDecision("VIS-M8-100", false),
	}}

	cfg := config.PricingConfig{
		MarginFraction:     0.45,
		MinReferenceSales:  3,
		StabilityThreshold: 0.05,
		TaxRate:            0.20,
		BaseCurrency:       "EUR",
	}
	eng, err := NewEngine(
		quotes.NewRepository(client.DB()), client, auditor, validations, outboxer,
		pricer, refs, histories, transports, cfg, logg, nil, opts...,
	)
	require.NoError(t, err)

	return &workflowHarness{
		engine:      eng,
		client:      client,
		repo:        quotes.NewRepository(client.DB()),
		auditor:     auditor,
		validations: validations,
		refs:        refs,
		histories:   histories,
		transports:  transports,
		pricer:      pricer,
	}
}

func cannedDecision(itemCode string, requiresValidation bool) *pricing.Decision {
	decision := &pricing.Decision{
		ItemCode:         itemCode,
		Case:             enums.PricingCaseClientStable,
		UnitPrice:        decimal.RequireFromString("150.00"),
		SupplierPrice:    decimal.NewFromInt(100),
		SupplierCurrency: "EUR",
		FxRate:           decimal.NewFromInt(1),
		NetSupplierCost:  decimal.NewFromInt(100),
		MarginFraction:   decimal.Zero,
		Justification:    "last sale price kept, supplier cost stable",
		Confidence:       95,
	}
	if requiresValidation {
		decision.Case = enums.PricingCaseNewProduct
		decision.UnitPrice = decimal.RequireFromString("181.82")
		decision.MarginFraction = decimal.RequireFromString("0.45")
		decision.Justification = "never sold before, margin applied on supplier cost"
		decision.Confidence = 50
		decision.RequiresValidation = true
	}
	return decision
}

func seedDraft(t *testing.T, h *workflowHarness, state enums.WorkflowState, itemCodes ...string) *models.QuoteDraft {
	t.Helper()
	name := "Ateliers Brunel"
	draft := &models.QuoteDraft{
		ID:           uuid.New(),
		Source:       "email",
		ClientRef:    "REQ-" + uuid.NewString()[:8],
		CustomerName: &name,
		State:        state,
		Currency:     "EUR",
	}
	for _, itemCode := range itemCodes {
		draft.LineItems = append(draft.LineItems, models.QuoteLineItem{
			ID:          uuid.New(),
			QuoteID:     draft.ID,
			ItemCode:    itemCode,
			DisplayName: itemCode,
			Quantity:    10,
			Unit:        "unit",
			Origin:      enums.LineItemOriginCatalog,
			Status:      enums.LineItemStatusPending,
		})
	}
	require.NoError(t, h.repo.Create(context.Background(), draft))
	return draft
}

func outboxEventTypes(t *testing.T, h *workflowHarness, quoteID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.client.DB().
		Where("aggregate_id = ?", quoteID).
		Order("created_at ASC").
		Find(&rows).Error)
	types := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}

func TestEngineRunSendsAutomatically(t *testing.T) {
	h := setupWorkflow(t)
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")

	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	final, err := h.repo.GetByID(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StateQuoteSent, final.State)
	require.NotNil(t, final.TerminalAt)
	require.False(t, final.RequiresManualValidation)
	require.Equal(t, "CUST-042", *final.CustomerCode)

	// 10 units at 150.00 plus the cheapest carrier at 45.00.
	require.True(t, final.ProductSubtotal.Equal(decimal.RequireFromString("1500.00")),
		"subtotal %s", final.ProductSubtotal)
	require.True(t, final.TotalHT.Equal(decimal.RequireFromString("1545.00")), "total HT %s", final.TotalHT)
	require.True(t, final.TotalTTC.Equal(decimal.RequireFromString("1854.00")), "total TTC %s", final.TotalTTC)
	require.Equal(t, "Translog", *final.TransportCarrier)

	require.Equal(t, enums.LineItemStatusPriced, final.LineItems[0].Status)

	decisions, err := h.auditor.DecisionsForQuote(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, enums.PricingCaseClientStable, decisions[0].Case)

	traces, err := h.auditor.TracesForQuote(context.Background(), draft.ID)
	require.NoError(t, err)
	var states []enums.WorkflowState
	for _, trace := range traces {
		states = append(states, trace.State)
	}
	require.Equal(t, []enums.WorkflowState{
		enums.StateClientIdentified,
		enums.StateProductIdentified,
		enums.StateSupplierIdentified,
		enums.StateSupplierPriced,
		enums.StateHistoricalAnalysisDone,
		enums.StatePricingCaseSelected,
		enums.StateCurrencyApplied,
		enums.StateSupplierDiscountApplied,
		enums.StateMarginApplied,
		enums.StatePricingIntelligentDone,
		enums.StateTransportOptimized,
		enums.StateJustificationBuilt,
		enums.StateCoherenceValidated,
		enums.StateQuoteGenerated,
		enums.StateQuoteSent,
	}, states)

	events := outboxEventTypes(t, h, draft.ID)
	require.Contains(t, events, enums.EventQuoteGenerated)
	require.Contains(t, events, enums.EventQuoteSent)
}

func TestEngineJustificationTraceCarriesFinalTotals(t *testing.T) {
	h := setupWorkflow(t)
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")

	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	traces, err := h.auditor.TracesForQuote(context.Background(), draft.ID)
	require.NoError(t, err)
	var block string
	for _, trace := range traces {
		if trace.State == enums.StateJustificationBuilt {
			block = trace.Justification
		}
	}
	require.NotEmpty(t, block)
	require.Contains(t, block, "Total HT 1545.00 EUR")
	require.Contains(t, block, "total TTC 1854.00 EUR")
}

func TestEngineRunGatesWhenValidationRequired(t *testing.T) {
	h := setupWorkflow(t)
	h.pricer.decisions["VIS-M8-100"] = cannedDecision("VIS-M8-100", true)
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")

	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	gated, err := h.repo.GetByID(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StateManualValidationRequired, gated.State)
	require.True(t, gated.RequiresManualValidation)
	require.NotEmpty(t, gated.ValidationReasons)
	require.Nil(t, gated.TerminalAt)

	pending, err := h.validations.PendingForQuote(context.Background(), draft.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
}

func TestEngineResumeApproveSends(t *testing.T) {
	h := setupWorkflow(t)
	h.pricer.decisions["VIS-M8-100"] = cannedDecision("VIS-M8-100", true)
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")
	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	outcome, err := h.validations.Decide(context.Background(), validation.DecideInput{
		QuoteID:  draft.ID,
		Decision: enums.ValidationDecisionApprove,
		Actor:    "marie.dupont",
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.Resume(context.Background(), draft.ID, outcome))

	final, err := h.repo.GetByID(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StateQuoteSent, final.State)
	require.NotNil(t, final.TerminalAt)
}

func TestEngineResumeRejectTerminates(t *testing.T) {
	h := setupWorkflow(t)
	h.pricer.decisions["VIS-M8-100"] = cannedDecision("VIS-M8-100", true)
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")
	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	outcome, err := h.validations.Decide(context.Background(), validation.DecideInput{
		QuoteID:  draft.ID,
		Decision: enums.ValidationDecisionReject,
		Actor:    "marie.dupont",
		Reason:   "margin too aggressive for this account",
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.Resume(context.Background(), draft.ID, outcome))

	final, err := h.repo.GetByID(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StateRejected, final.State)
	require.NotNil(t, final.TerminalAt)
	require.Contains(t, outboxEventTypes(t, h, draft.ID), enums.EventQuoteRejected)
}

func TestEngineResumeModifyPriceRecomputesTotals(t *testing.T) {
	h := setupWorkflow(t)
	h.pricer.decisions["VIS-M8-100"] = cannedDecision("VIS-M8-100", true)
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")
	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	outcome, err := h.validations.Decide(context.Background(), validation.DecideInput{
		QuoteID:  draft.ID,
		Decision: enums.ValidationDecisionModifyPrice,
		Actor:    "marie.dupont",
		PriceOverrides: map[string]decimal.Decimal{
			"VIS-M8-100": decimal.RequireFromString("175.00"),
		},
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.Resume(context.Background(), draft.ID, outcome))

	final, err := h.repo.GetByID(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StateQuoteSent, final.State)
	// 10 units at the overridden 175.00 plus transport at 45.00, then 20% tax.
	require.True(t, final.ProductSubtotal.Equal(decimal.RequireFromString("1750.00")),
		"subtotal %s", final.ProductSubtotal)
	require.True(t, final.TotalHT.Equal(decimal.RequireFromString("1795.00")), "total HT %s", final.TotalHT)
	require.True(t, final.TotalTTC.Equal(decimal.RequireFromString("2154.00")), "total TTC %s", final.TotalTTC)

	// Recorded decisions keep the engine's original price.
	decisions, err := h.auditor.DecisionsForQuote(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.True(t, decisions[0].UnitPrice.Equal(decimal.RequireFromString("181.82")))
}

func TestEngineResumeModifyPriceSurfacesOverrideInJustification(t *testing.T) {
	h := setupWorkflow(t)
	h.pricer.decisions["VIS-M8-100"] = cannedDecision("VIS-M8-100", true)
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")
	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	outcome, err := h.validations.Decide(context.Background(), validation.DecideInput{
		QuoteID:  draft.ID,
		Decision: enums.ValidationDecisionModifyPrice,
		Actor:    "marie.dupont",
		PriceOverrides: map[string]decimal.Decimal{
			"VIS-M8-100": decimal.RequireFromString("175.00"),
		},
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.Resume(context.Background(), draft.ID, outcome))

	final, err := h.repo.GetByID(context.Background(), draft.ID)
	require.NoError(t, err)
	decisions, err := h.auditor.DecisionsForQuote(context.Background(), draft.ID)
	require.NoError(t, err)

	// The sent checkpoint carries the override alerts so a rebuilt
	// justification can explain why line totals no longer sum to the grand
	// total.
	traces, err := h.auditor.TracesForQuote(context.Background(), draft.ID)
	require.NoError(t, err)
	var overrides []string
	for i := range traces {
		if traces[i].State == enums.StateQuoteSent {
			overrides = traces[i].Alerts
		}
	}
	require.Len(t, overrides, 1)

	view, err := justification.Build(final, decisions, overrides)
	require.NoError(t, err)
	require.Equal(t, "181.82", view.Lines[0].UnitPrice)
	require.Contains(t, view.Text, "Total HT 1795.00 EUR")
	require.Contains(t, view.Text, "Override: unit price for VIS-M8-100 overridden to 175.00 (was 181.82)")
}

func TestEngineRunRejectsNonReceivedDraft(t *testing.T) {
	h := setupWorkflow(t)
	draft := seedDraft(t, h, enums.StateQuoteSent, "VIS-M8-100")

	err := h.engine.Run(context.Background(), draft.ID)
	require.Error(t, err)
	require.Equal(t, errors.CodeStateConflict, errors.As(err).Code())
}

func TestEngineResumeRequiresGatedDraft(t *testing.T) {
	h := setupWorkflow(t)
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")

	err := h.engine.Resume(context.Background(), draft.ID, &validation.Outcome{
		Decision: enums.ValidationDecisionApprove,
		Actor:    "marie.dupont",
	})
	require.Error(t, err)
	require.Equal(t, errors.CodeStateConflict, errors.As(err).Code())
}

func TestEngineRunFailsDraftOnReferenceOutage(t *testing.T) {
	h := setupWorkflow(t)
	h.refs.resolveErr = fmt.Errorf("reference service unavailable")
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")

	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	final, err := h.repo.GetByID(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StateFailed, final.State)
	require.NotNil(t, final.TerminalAt)
	require.Equal(t, "client_identification", *final.FailureStep)
	require.Contains(t, *final.FailureReason, "reference service unavailable")
	require.Contains(t, outboxEventTypes(t, h, draft.ID), enums.EventQuoteFailed)
}

func TestEngineRunExcludesAmbiguousSupplierLine(t *testing.T) {
	h := setupWorkflow(t)
	h.refs.products["ECR-T20-050"] = &reference.CatalogItem{
		Code:          "ECR-T20-050",
		DisplayName:   "Ecrou T20",
		Unit:          "unit",
		SupplierCodes: []string{"SUP-001", "SUP-002"},
	}
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100", "ECR-T20-050")

	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	final, err := h.repo.GetByID(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StateManualValidationRequired, final.State)
	require.True(t, final.RequiresManualValidation)

	byCode := make(map[string]models.QuoteLineItem)
	for _, item := range final.LineItems {
		byCode[item.ItemCode] = item
	}
	excluded := byCode["ECR-T20-050"]
	require.Equal(t, enums.LineItemStatusExcluded, excluded.Status)
	require.NotNil(t, excluded.ExclusionReason)
	require.Contains(t, *excluded.ExclusionReason, "ECR-T20-050")
	require.Equal(t, enums.LineItemStatusPriced, byCode["VIS-M8-100"].Status)

	found := false
	for _, reason := range final.ValidationReasons {
		if strings.Contains(reason, "ECR-T20-050") {
			found = true
		}
	}
	require.True(t, found, "validation reasons %v must name the excluded item", final.ValidationReasons)
}

func TestEngineRejectExpiredGatedDraft(t *testing.T) {
	h := setupWorkflow(t)
	h.pricer.decisions["VIS-M8-100"] = cannedDecision("VIS-M8-100", true)
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")
	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	require.NoError(t, h.engine.RejectExpired(context.Background(), draft.ID))

	final, err := h.repo.GetByID(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StateRejected, final.State)
	require.NotNil(t, final.TerminalAt)
	require.Contains(t, outboxEventTypes(t, h, draft.ID), enums.EventQuoteRejected)
}

func TestEngineRunCreatesUnknownCustomer(t *testing.T) {
	h := setupWorkflow(t)
	h.refs.customer = nil
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")

	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	final, err := h.repo.GetByID(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StateQuoteSent, final.State)
	require.True(t, final.CustomerIsNew)
	require.Equal(t, "CUST-900", *final.CustomerCode)

	traces, err := h.auditor.TracesForQuote(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, enums.StateClientCreated, traces[0].State)
}

func TestEngineNotifiesTransitionObserver(t *testing.T) {
	type transition struct {
		quoteID  uuid.UUID
		from, to enums.WorkflowState
	}
	var seen []transition
	h := setupWorkflow(t, WithTransitionObserver(func(quoteID uuid.UUID, from, to enums.WorkflowState) {
		seen = append(seen, transition{quoteID: quoteID, from: from, to: to})
	}))
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")

	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	require.NotEmpty(t, seen)
	require.Equal(t, draft.ID, seen[0].quoteID)
	require.Equal(t, enums.StateReceived, seen[0].from)
	require.Equal(t, enums.StateClientIdentified, seen[0].to)
	require.Equal(t, enums.StateQuoteSent, seen[len(seen)-1].to)
	for i := 1; i < len(seen); i++ {
		require.Equal(t, seen[i-1].to, seen[i].from, "transition %d does not chain", i)
	}
}

func TestEngineObserverSeesValidationGate(t *testing.T) {
	var last enums.WorkflowState
	h := setupWorkflow(t, WithTransitionObserver(func(_ uuid.UUID, _, to enums.WorkflowState) {
		last = to
	}))
	h.pricer.decisions["VIS-M8-100"] = cannedDecision("VIS-M8-100", true)
	draft := seedDraft(t, h, enums.StateReceived, "VIS-M8-100")

	require.NoError(t, h.engine.Run(context.Background(), draft.ID))

	require.Equal(t, enums.StateManualValidationRequired, last)
}
