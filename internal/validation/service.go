package validation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quoteflow-io/quoteflow-backend/pkg/db"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
	"github.com/quoteflow-io/quoteflow-backend/pkg/errors"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox/payloads"
)

// DecideInput records one human decision on a pending validation request.
// PriceOverrides maps item codes to replacement unit prices and is only
// honored for modify_price decisions.
type DecideInput struct {
	QuoteID        uuid.UUID
	Decision       enums.ValidationDecision
	Actor          string
	Reason         string
	PriceOverrides map[string]decimal.Decimal
}

// Outcome is the recorded result of a decision, handed to the workflow so it
// can resume the draft.
type Outcome struct {
	Request        *models.ValidationRequest
	Decision       enums.ValidationDecision
	Reason         string
	Actor          string
	PriceOverrides map[string]decimal.Decimal
}

// Service manages the manual validation queue.
type Service interface {
	RequestTx(ctx context.Context, tx *gorm.DB, quoteID uuid.UUID, reasons []string, totalHT decimal.Decimal) (*models.ValidationRequest, error)
	Decide(ctx context.Context, input DecideInput) (*Outcome, error)
	PendingForQuote(ctx context.Context, quoteID uuid.UUID) (*models.ValidationRequest, error)
	ExpirePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.ValidationRequest, error)
}

type service struct {
	repo     Repository
	client   *db.Client
	outboxer *outbox.Service
	logg     *logger.Logger
}

// NewService wires the validation service.
func NewService(repo Repository, client *db.Client, outboxer *outbox.Service, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, errors.New(errors.CodeInternal, "validation repository required")
	}
	if client == nil {
		return nil, errors.New(errors.CodeInternal, "db client required")
	}
	if outboxer == nil {
		return nil, errors.New(errors.CodeInternal, "outbox service required")
	}
	if logg == nil {
		return nil, errors.New(errors.CodeInternal, "logger required")
	}
	return &service{repo: repo, client: client, outboxer: outboxer, logg: logg}, nil
}

// RequestTx opens a pending validation request inside the caller's
// transaction. At most one pending request exists per quote.
func (s *service) RequestTx(ctx context.Context, tx *gorm.DB, quoteID uuid.UUID, reasons []string, totalHT decimal.Decimal) (*models.ValidationRequest, error) {
	if tx == nil {
		return nil, errors.New(errors.CodeInternal, "transaction required")
	}
	if quoteID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "quote id is required")
	}

	txRepo := s.repo.WithTx(tx)
	existing, err := txRepo.FindPendingByQuoteID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	request := &models.ValidationRequest{
		ID:      uuid.New(),
		QuoteID: quoteID,
		Status:  enums.ValidationStatusPending,
	}
	if err := txRepo.Create(ctx, request); err != nil {
		return nil, err
	}

	err = s.outboxer.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventValidationRequested,
		AggregateType: enums.AggregateValidationRequest,
		AggregateID:   request.ID,
		Version:       1,
		Data: payloads.ValidationRequestedEvent{
			ValidationID: request.ID,
			QuoteID:      quoteID,
			Reasons:      reasons,
			TotalHT:      totalHT,
		},
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// Decide closes the pending request for the quote. A quote without a pending
// request cannot be decided, nor can a request be decided twice.
func (s *service) Decide(ctx context.Context, input DecideInput) (*Outcome, error) {
	if input.QuoteID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "quote id is required")
	}
	if !input.Decision.IsValid() {
		return nil, errors.New(errors.CodeValidation, "invalid validation decision")
	}
	if input.Actor == "" {
		return nil, errors.New(errors.CodeValidation, "actor is required")
	}
	if input.Decision == enums.ValidationDecisionModifyPrice && len(input.PriceOverrides) == 0 {
		return nil, errors.New(errors.CodeValidation, "modify_price requires at least one price override")
	}
	for itemCode, price := range input.PriceOverrides {
		if !price.IsPositive() {
			return nil, errors.New(errors.CodeValidation, "price override must be positive").
				WithDetails(map[string]any{"item_code": itemCode})
		}
	}

	var request *models.ValidationRequest
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		pending, err := txRepo.FindPendingByQuoteID(ctx, input.QuoteID)
		if err != nil {
			return err
		}
		if pending == nil {
			return errors.New(errors.CodeStateConflict, "quote has no pending validation request")
		}

		now := time.Now().UTC()
		decision := input.Decision
		pending.Decision = &decision
		pending.Actor = &input.Actor
		if input.Reason != "" {
			pending.Reason = &input.Reason
		}
		pending.DecidedAt = &now
		pending.Status = statusForDecision(input.Decision)

		if input.Decision == enums.ValidationDecisionModifyPrice {
			overrides, err := json.Marshal(overridesAsStrings(input.PriceOverrides))
			if err != nil {
				return err
			}
			pending.PriceOverrides = overrides
		}

		if err := txRepo.Update(ctx, pending); err != nil {
			return err
		}
		request = pending

		return s.outboxer.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventValidationRecorded,
			AggregateType: enums.AggregateValidationRequest,
			AggregateID:   pending.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{Subject: input.Actor},
			Data: payloads.ValidationRecordedEvent{
				ValidationID: pending.ID,
				QuoteID:      input.QuoteID,
				Decision:     input.Decision,
				Actor:        input.Actor,
				DecidedAt:    now,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"quote_id": input.QuoteID.String(),
		"decision": string(input.Decision),
	})
	s.logg.Info(ctx, "validation decision recorded")

	return &Outcome{
		Request:        request,
		Decision:       input.Decision,
		Reason:         input.Reason,
		Actor:          input.Actor,
		PriceOverrides: input.PriceOverrides,
	}, nil
}

func (s *service) PendingForQuote(ctx context.Context, quoteID uuid.UUID) (*models.ValidationRequest, error) {
	if quoteID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "quote id is required")
	}
	return s.repo.FindPendingByQuoteID(ctx, quoteID)
}

// ExpirePending marks requests pending longer than olderThan as expired and
// returns them so the caller can reject the underlying drafts.
func (s *service) ExpirePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.ValidationRequest, error) {
	if olderThan <= 0 {
		return nil, errors.New(errors.CodeValidation, "expiry window must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	var expired []models.ValidationRequest

	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		stale, err := txRepo.ListPendingCreatedBefore(ctx, cutoff, limit)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range stale {
			request := &stale[i]
			request.Status = enums.ValidationStatusExpired
			request.DecidedAt = &now
			if err := txRepo.Update(ctx, request); err != nil {
				return err
			}
			err := s.outboxer.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventValidationExpired,
				AggregateType: enums.AggregateValidationRequest,
				AggregateID:   request.ID,
				Version:       1,
				Data: payloads.ValidationExpiredEvent{
					ValidationID: request.ID,
					QuoteID:      request.QuoteID,
					ExpiredAt:    now,
				},
			})
			if err != nil {
				return err
			}
			expired = append(expired, *request)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func statusForDecision(decision enums.ValidationDecision) enums.ValidationStatus {
	switch decision {
	case enums.ValidationDecisionApprove:
		return enums.ValidationStatusApproved
	case enums.ValidationDecisionReject:
		return enums.ValidationStatusRejected
	default:
		return enums.ValidationStatusModified
	}
}

func overridesAsStrings(overrides map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(overrides))
	for itemCode, price := range overrides {
		out[itemCode] = price.StringFixed(2)
	}
	return out
}
