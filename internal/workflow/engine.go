package workflow

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quoteflow-io/quoteflow-backend/internal/audit"
	"github.com/quoteflow-io/quoteflow-backend/internal/history"
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
	"github.com/quoteflow-io/quoteflow-backend/pkg/metrics"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox/payloads"
)

// Engine drives a quote draft through the forward-only workflow. Run picks up
// a draft in the received state and carries it to a terminal or gated state;
// Resume applies a manual validation outcome to a gated draft.
type Engine interface {
	Run(ctx context.Context, quoteID uuid.UUID) error
	Resume(ctx context.Context, quoteID uuid.UUID, outcome *validation.Outcome) error
	RejectExpired(ctx context.Context, quoteID uuid.UUID) error
}

type engine struct {
	repo        quotes.Repository
	client      *db.Client
	auditor     audit.Service
	validations validation.Service
	outboxer    *outbox.Service
	pricer      pricing.Engine
	refs        reference.Service
	histories   history.Service
	transports  transport.Service
	cfg         config.PricingConfig
	logg        *logger.Logger
	metrics     *metrics.QuoteMetrics
	locks       *draftLocks
	concurrency int
	observer    TransitionObserver
}

// TransitionObserver is notified after each committed state transition.
type TransitionObserver func(quoteID uuid.UUID, from, to enums.WorkflowState)

// Option customizes engine construction.
type Option func(*engine)

// WithTransitionObserver registers a callback that receives workflow progress
// as transitions commit. The callback runs on the workflow goroutine and must
// not block.
func WithTransitionObserver(fn TransitionObserver) Option {
	return func(e *engine) { e.observer = fn }
}

// NewEngine wires the workflow engine. Metrics are optional.
func NewEngine(
	repo quotes.Repository,
	client *db.Client,
	auditor audit.Service,
	validations validation.Service,
	outboxer *outbox.Service,
	pricer pricing.Engine,
	refs reference.Service,
	histories history.Service,
	transports transport.Service,
	cfg config.PricingConfig,
	logg *logger.Logger,
	quoteMetrics *metrics.QuoteMetrics,
	opts ...Option,
) (Engine, error) {
	if repo == nil {
		return nil, errors.New(errors.CodeInternal, "quote repository required")
	}
	if client == nil {
		return nil, errors.New(errors.CodeInternal, "db client required")
	}
	if auditor == nil {
		return nil, errors.New(errors.CodeInternal, "audit service required")
	}
	if validations == nil {
		return nil, errors.New(errors.CodeInternal, "validation service required")
	}
	if outboxer == nil {
		return nil, errors.New(errors.CodeInternal, "outbox service required")
	}
	if pricer == nil {
		return nil, errors.New(errors.CodeInternal, "pricing engine required")
	}
	if refs == nil {
		return nil, errors.New(errors.CodeInternal, "reference service required")
	}
	if histories == nil {
		return nil, errors.New(errors.CodeInternal, "history service required")
	}
	if transports == nil {
		return nil, errors.New(errors.CodeInternal, "transport service required")
	}
	if logg == nil {
		return nil, errors.New(errors.CodeInternal, "logger required")
	}
	eng := &engine{
		repo:        repo,
		client:      client,
		auditor:     auditor,
		validations: validations,
		outboxer:    outboxer,
		pricer:      pricer,
		refs:        refs,
		histories:   histories,
		transports:  transports,
		cfg:         cfg,
		logg:        logg,
		metrics:     quoteMetrics,
		locks:       newDraftLocks(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(eng)
	}
	return eng, nil
}

// stepError marks a dependency failure that terminates the draft instead of
// being retried.
type stepError struct {
	step  string
	cause error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%s: %v", e.step, e.cause)
}

func (e *stepError) Unwrap() error { return e.cause }

func halt(step string, cause error) error {
	return &stepError{step: step, cause: cause}
}

func (e *engine) Run(ctx context.Context, quoteID uuid.UUID) error {
	if quoteID == uuid.Nil {
		return errors.New(errors.CodeValidation, "quote id is required")
	}
	release := e.locks.acquire(quoteID)
	defer release()

	draft, err := e.loadDraft(ctx, quoteID)
	if err != nil {
		return err
	}
	if draft.State != enums.StateReceived {
		return errors.New(errors.CodeStateConflict,
			fmt.Sprintf("draft is in state %s, only received drafts can be processed", draft.State))
	}

	ctx = e.logg.WithQuoteID(ctx, quoteID.String())

	if err := e.process(ctx, draft); err != nil {
		var step *stepError
		if stdErrors.As(err, &step) {
			return e.failDraft(ctx, draft, step.step, step.cause)
		}
		return err
	}
	return nil
}

func (e *engine) process(ctx context.Context, draft *models.QuoteDraft) error {
	if err := e.identifyClient(ctx, draft); err != nil {
		return err
	}
	if err := e.identifyProducts(ctx, draft); err != nil {
		return err
	}
	if err := e.identifySuppliers(ctx, draft); err != nil {
		return err
	}
	snapshots, err := e.priceSuppliers(ctx, draft)
	if err != nil {
		return err
	}
	decisions, err := e.priceLines(ctx, draft, snapshots)
	if err != nil {
		return err
	}
	if err := e.optimizeTransport(ctx, draft); err != nil {
		return err
	}
	if err := e.computeTotals(draft, decisions); err != nil {
		return err
	}
	if err := e.buildJustification(ctx, draft); err != nil {
		return err
	}
	if err := e.validateCoherence(ctx, draft, decisions); err != nil {
		return err
	}
	if err := e.generateQuote(ctx, draft); err != nil {
		return err
	}
	if draft.RequiresManualValidation {
		return e.gateForValidation(ctx, draft)
	}
	return e.send(ctx, draft, "quote dispatched automatically", nil)
}

// Resume applies a manual validation outcome to a gated draft.
func (e *engine) Resume(ctx context.Context, quoteID uuid.UUID, outcome *validation.Outcome) error {
	if quoteID == uuid.Nil {
		return errors.New(errors.CodeValidation, "quote id is required")
	}
	if outcome == nil {
		return errors.New(errors.CodeValidation, "validation outcome is required")
	}
	release := e.locks.acquire(quoteID)
	defer release()

	draft, err := e.loadDraft(ctx, quoteID)
	if err != nil {
		return err
	}
	if draft.State != enums.StateManualValidationRequired {
		return errors.New(errors.CodeStateConflict,
			fmt.Sprintf("draft is in state %s, only gated drafts can be resumed", draft.State))
	}

	ctx = e.logg.WithQuoteID(ctx, quoteID.String())

	switch outcome.Decision {
	case enums.ValidationDecisionApprove:
		return e.send(ctx, draft, fmt.Sprintf("quote approved by %s", outcome.Actor), nil)
	case enums.ValidationDecisionReject:
		return e.reject(ctx, draft, outcome.Actor, outcome.Reason, nil)
	case enums.ValidationDecisionModifyPrice:
		return e.applyOverridesAndSend(ctx, draft, outcome)
	default:
		return errors.New(errors.CodeValidation, "invalid validation decision")
	}
}

// RejectExpired moves a gated draft whose validation window lapsed to the
// rejected state.
func (e *engine) RejectExpired(ctx context.Context, quoteID uuid.UUID) error {
	if quoteID == uuid.Nil {
		return errors.New(errors.CodeValidation, "quote id is required")
	}
	release := e.locks.acquire(quoteID)
	defer release()

	draft, err := e.loadDraft(ctx, quoteID)
	if err != nil {
		return err
	}
	if draft.State != enums.StateManualValidationRequired {
		return errors.New(errors.CodeStateConflict,
			fmt.Sprintf("draft is in state %s, only gated drafts can expire", draft.State))
	}

	ctx = e.logg.WithQuoteID(ctx, quoteID.String())
	return e.reject(ctx, draft, "", "validation window expired without a decision",
		[]string{"manual validation expired"})
}

func (e *engine) loadDraft(ctx context.Context, quoteID uuid.UUID) (*models.QuoteDraft, error) {
	draft, err := e.repo.GetByID(ctx, quoteID)
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.CodeNotFound, "quote not found")
	}
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// advance commits a state transition together with its trace and any outbox
// events in one transaction.
func (e *engine) advance(ctx context.Context, draft *models.QuoteDraft, next enums.WorkflowState, trace audit.RecordTraceInput, events ...outbox.DomainEvent) error {
	if !draft.State.CanAdvanceTo(next) {
		return errors.New(errors.CodeStateConflict,
			fmt.Sprintf("cannot advance from %s to %s", draft.State, next))
	}
	previous := draft.State
	draft.State = next
	trace.QuoteID = draft.ID
	trace.State = next

	err := e.client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.repo.WithTx(tx).Update(ctx, draft); err != nil {
			return err
		}
		if _, err := e.auditor.WithTx(tx).RecordTrace(ctx, trace); err != nil {
			return err
		}
		for _, event := range events {
			if err := e.outboxer.Emit(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		draft.State = previous
		return err
	}

	e.metrics.IncTransition(string(next))
	if e.observer != nil {
		e.observer(draft.ID, previous, next)
	}
	e.logg.Info(e.logg.WithWorkflowState(ctx, string(next)), "workflow advanced")
	return nil
}

// failDraft terminates the workflow after an unrecoverable dependency error.
func (e *engine) failDraft(ctx context.Context, draft *models.QuoteDraft, step string, cause error) error {
	now := time.Now().UTC()
	reason := cause.Error()
	draft.FailureStep = &step
	draft.FailureReason = &reason
	draft.TerminalAt = &now

	err := e.advance(ctx, draft, enums.StateFailed,
		audit.RecordTraceInput{
			Summary: fmt.Sprintf("workflow halted at %s", step),
			Alerts:  []string{reason},
		},
		outbox.DomainEvent{
			EventType:     enums.EventQuoteFailed,
			AggregateType: enums.AggregateQuoteDraft,
			AggregateID:   draft.ID,
			Version:       1,
			Data: payloads.QuoteFailedEvent{
				QuoteID:       draft.ID,
				FailureStep:   step,
				FailureReason: reason,
			},
		})
	if err != nil {
		return err
	}
	e.logg.Error(ctx, "workflow failed at "+step, cause)
	return nil
}

func (e *engine) send(ctx context.Context, draft *models.QuoteDraft, summary string, alerts []string) error {
	now := time.Now().UTC()
	draft.TerminalAt = &now
	return e.advance(ctx, draft, enums.StateQuoteSent,
		audit.RecordTraceInput{Summary: summary, Alerts: alerts},
		outbox.DomainEvent{
			EventType:     enums.EventQuoteSent,
			AggregateType: enums.AggregateQuoteDraft,
			AggregateID:   draft.ID,
			Version:       1,
			Data:          payloads.QuoteSentEvent{QuoteID: draft.ID, SentAt: now},
		})
}

func (e *engine) reject(ctx context.Context, draft *models.QuoteDraft, actor, reason string, alerts []string) error {
	now := time.Now().UTC()
	draft.TerminalAt = &now
	summary := "quote rejected"
	if actor != "" {
		summary = fmt.Sprintf("quote rejected by %s", actor)
	}
	if reason != "" {
		alerts = append(alerts, reason)
	}
	return e.advance(ctx, draft, enums.StateRejected,
		audit.RecordTraceInput{Summary: summary, Alerts: alerts},
		outbox.DomainEvent{
			EventType:     enums.EventQuoteRejected,
			AggregateType: enums.AggregateQuoteDraft,
			AggregateID:   draft.ID,
			Version:       1,
			Data: payloads.QuoteRejectedEvent{
				QuoteID:    draft.ID,
				Actor:      actor,
				Reason:     reason,
				RejectedAt: now,
			},
		})
}

func (e *engine) gateForValidation(ctx context.Context, draft *models.QuoteDraft) error {
	if !draft.State.CanAdvanceTo(enums.StateManualValidationRequired) {
		return errors.New(errors.CodeStateConflict,
			fmt.Sprintf("cannot advance from %s to %s", draft.State, enums.StateManualValidationRequired))
	}
	previous := draft.State
	draft.State = enums.StateManualValidationRequired

	err := e.client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.repo.WithTx(tx).Update(ctx, draft); err != nil {
			return err
		}
		_, err := e.auditor.WithTx(tx).RecordTrace(ctx, audit.RecordTraceInput{
			QuoteID: draft.ID,
			State:   enums.StateManualValidationRequired,
			Summary: "quote held for manual validation",
			Alerts:  draft.ValidationReasons,
		})
		if err != nil {
			return err
		}
		_, err = e.validations.RequestTx(ctx, tx, draft.ID, draft.ValidationReasons, draft.TotalHT)
		return err
	})
	if err != nil {
		draft.State = previous
		return err
	}

	e.metrics.IncTransition(string(enums.StateManualValidationRequired))
	if e.observer != nil {
		e.observer(draft.ID, previous, enums.StateManualValidationRequired)
	}
	e.logg.Info(e.logg.WithWorkflowState(ctx, string(enums.StateManualValidationRequired)), "workflow gated")
	return nil
}

// applyOverridesAndSend recomputes totals with the validator's unit prices and
// dispatches the quote.
func (e *engine) applyOverridesAndSend(ctx context.Context, draft *models.QuoteDraft, outcome *validation.Outcome) error {
	records, err := e.auditor.DecisionsForQuote(ctx, draft.ID)
	if err != nil {
		return err
	}
	priceByItem := make(map[string]decimal.Decimal, len(records))
	for _, record := range records {
		priceByItem[record.ItemCode] = record.UnitPrice
	}

	alerts := make([]string, 0, len(outcome.PriceOverrides))
	for itemCode, price := range outcome.PriceOverrides {
		original, ok := priceByItem[itemCode]
		if !ok {
			return errors.New(errors.CodeValidation,
				fmt.Sprintf("price override targets unknown item %s", itemCode))
		}
		priceByItem[itemCode] = price
		alerts = append(alerts, fmt.Sprintf("unit price for %s overridden to %s (was %s)",
			itemCode, price.StringFixed(2), original.StringFixed(2)))
	}
	sort.Strings(alerts)

	subtotal := decimal.Zero
	for _, item := range draft.LineItems {
		if item.Status != enums.LineItemStatusPriced {
			continue
		}
		price, ok := priceByItem[item.ItemCode]
		if !ok {
			return errors.New(errors.CodeInternal,
				fmt.Sprintf("item %s has no pricing decision", item.ItemCode))
		}
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	draft.ProductSubtotal = subtotal
	draft.TotalHT = subtotal.Add(draft.TransportCost)
	draft.TotalTTC = draft.TotalHT.Mul(decimal.NewFromInt(1).Add(draft.TaxRate)).Round(2)

	return e.send(ctx, draft,
		fmt.Sprintf("quote sent after price modification by %s", outcome.Actor), alerts)
}
