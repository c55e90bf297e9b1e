package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/quoteflow-io/quoteflow-backend/internal/pricing"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

// Service records immutable audit entries for pricing decisions and workflow
// transitions.
type Service interface {
	WithTx(tx *gorm.DB) Service
	RecordDecision(ctx context.Context, quoteID uuid.UUID, decision *pricing.Decision) (*models.PricingDecisionRecord, error)
	RecordTrace(ctx context.Context, input RecordTraceInput) (*models.DecisionTraceRecord, error)
	DecisionsForQuote(ctx context.Context, quoteID uuid.UUID) ([]models.PricingDecisionRecord, error)
	TracesForQuote(ctx context.Context, quoteID uuid.UUID) ([]models.DecisionTraceRecord, error)
}

// RecordTraceInput captures one workflow transition checkpoint. Sequence is
// assigned by the service so traces stay strictly ordered per quote.
type RecordTraceInput struct {
	QuoteID       uuid.UUID
	State         enums.WorkflowState
	Summary       string
	Justification string
	DataSources   []string
	Alerts        []string
}

type service struct {
	repo Repository
}

// NewService wires an audit service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) RecordDecision(ctx context.Context, quoteID uuid.UUID, decision *pricing.Decision) (*models.PricingDecisionRecord, error) {
	if quoteID == uuid.Nil {
		return nil, fmt.Errorf("quote id is required")
	}
	if decision == nil {
		return nil, fmt.Errorf("pricing decision is required")
	}
	if !decision.Case.IsValid() {
		return nil, fmt.Errorf("invalid pricing case %q", decision.Case)
	}

	record := &models.PricingDecisionRecord{
		ID:                 uuid.New(),
		QuoteID:            quoteID,
		ItemCode:           decision.ItemCode,
		Case:               decision.Case,
		UnitPrice:          decision.UnitPrice,
		NetSupplierCost:    decision.NetSupplierCost,
		SupplierPrice:      decision.SupplierPrice,
		SupplierCurrency:   decision.SupplierCurrency,
		FxRate:             decision.FxRate,
		DiscountType:       decision.DiscountType,
		DiscountValue:      decision.DiscountValue,
		MarginFraction:     decision.MarginFraction,
		Justification:      decision.Justification,
		Confidence:         decision.Confidence,
		Alerts:             pq.StringArray(decision.Alerts),
		RequiresValidation: decision.RequiresValidation,
	}
	if err := s.repo.CreateDecision(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *service) RecordTrace(ctx context.Context, input RecordTraceInput) (*models.DecisionTraceRecord, error) {
	if input.QuoteID == uuid.Nil {
		return nil, fmt.Errorf("quote id is required")
	}
	if !input.State.IsValid() {
		return nil, fmt.Errorf("invalid workflow state %q", input.State)
	}
	if input.Summary == "" {
		return nil, fmt.Errorf("trace summary is required")
	}

	max, err := s.repo.MaxTraceSequence(ctx, input.QuoteID)
	if err != nil {
		return nil, err
	}

	record := &models.DecisionTraceRecord{
		ID:            uuid.New(),
		QuoteID:       input.QuoteID,
		Sequence:      max + 1,
		State:         input.State,
		Summary:       input.Summary,
		Justification: input.Justification,
		DataSources:   pq.StringArray(input.DataSources),
		Alerts:        pq.StringArray(input.Alerts),
	}
	if err := s.repo.CreateTrace(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *service) DecisionsForQuote(ctx context.Context, quoteID uuid.UUID) ([]models.PricingDecisionRecord, error) {
	if quoteID == uuid.Nil {
		return nil, fmt.Errorf("quote id is required")
	}
	return s.repo.ListDecisionsByQuoteID(ctx, quoteID)
}

func (s *service) TracesForQuote(ctx context.Context, quoteID uuid.UUID) ([]models.DecisionTraceRecord, error) {
	if quoteID == uuid.Nil {
		return nil, fmt.Errorf("quote id is required")
	}
	return s.repo.ListTracesByQuoteID(ctx, quoteID)
}
