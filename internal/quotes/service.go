package quotes

import (
	"context"
	stdErrors "errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quoteflow-io/quoteflow-backend/pkg/db"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
	"github.com/quoteflow-io/quoteflow-backend/pkg/errors"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox/payloads"
)

// SubmitLineInput is one requested product on an inbound quote request. Either
// an item code or a free-text description must be present.
type SubmitLineInput struct {
	ItemCode    string `json:"item_code"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Unit        string `json:"unit"`
}

// SubmitQuoteInput is a raw inbound quote request before any resolution.
type SubmitQuoteInput struct {
	Source        string            `json:"source"`
	ClientRef     string            `json:"client_ref"`
	CustomerName  string            `json:"customer_name"`
	CustomerEmail string            `json:"customer_email"`
	Lines         []SubmitLineInput `json:"lines"`
}

// Service exposes the quote draft lifecycle operations backing the API.
type Service interface {
	Submit(ctx context.Context, input SubmitQuoteInput) (*models.QuoteDraft, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.QuoteDraft, error)
}

type service struct {
	repo     Repository
	client   *db.Client
	outboxer *outbox.Service
	logg     *logger.Logger
}

// NewService wires the quote service.
func NewService(repo Repository, client *db.Client, outboxer *outbox.Service, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, errors.New(errors.CodeInternal, "quote repository required")
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

// Submit records an inbound quote request as a draft in the received state.
// Submissions are idempotent on (source, client_ref): a replay returns the
// existing draft and reports created=false.
func (s *service) Submit(ctx context.Context, input SubmitQuoteInput) (*models.QuoteDraft, bool, error) {
	if err := validateSubmitInput(input); err != nil {
		return nil, false, err
	}

	var (
		draft   *models.QuoteDraft
		created bool
	)
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		existing, err := txRepo.FindBySourceRef(ctx, input.Source, input.ClientRef)
		if err != nil {
			return err
		}
		if existing != nil {
			draft = existing
			return nil
		}

		draft = draftFromInput(input)
		if err := txRepo.Create(ctx, draft); err != nil {
			return err
		}
		created = true

		return s.outboxer.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventQuoteReceived,
			AggregateType: enums.AggregateQuoteDraft,
			AggregateID:   draft.ID,
			Version:       1,
			Data: payloads.QuoteReceivedEvent{
				QuoteID:   draft.ID,
				Source:    draft.Source,
				ClientRef: draft.ClientRef,
				ItemCount: len(draft.LineItems),
			},
		})
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		ctx = s.logg.WithQuoteID(ctx, draft.ID.String())
		s.logg.Info(ctx, "quote request accepted")
	}
	return draft, created, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.QuoteDraft, error) {
	if id == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "quote id is required")
	}
	draft, err := s.repo.GetByID(ctx, id)
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.CodeNotFound, "quote not found")
	}
	if err != nil {
		return nil, err
	}
	return draft, nil
}

func validateSubmitInput(input SubmitQuoteInput) error {
	if strings.TrimSpace(input.Source) == "" {
		return errors.New(errors.CodeValidation, "source is required")
	}
	if strings.TrimSpace(input.ClientRef) == "" {
		return errors.New(errors.CodeValidation, "client_ref is required")
	}
	if strings.TrimSpace(input.CustomerName) == "" && strings.TrimSpace(input.CustomerEmail) == "" {
		return errors.New(errors.CodeValidation, "customer name or email is required")
	}
	if len(input.Lines) == 0 {
		return errors.New(errors.CodeValidation, "at least one line is required")
	}
	for i, line := range input.Lines {
		if line.Quantity <= 0 {
			return errors.New(errors.CodeValidation, "line quantity must be positive").
				WithDetails(map[string]any{"line": i})
		}
		if strings.TrimSpace(line.ItemCode) == "" && strings.TrimSpace(line.Description) == "" {
			return errors.New(errors.CodeValidation, "line needs an item code or description").
				WithDetails(map[string]any{"line": i})
		}
	}
	return nil
}

func draftFromInput(input SubmitQuoteInput) *models.QuoteDraft {
	draft := &models.QuoteDraft{
		ID:        uuid.New(),
		Source:    strings.TrimSpace(input.Source),
		ClientRef: strings.TrimSpace(input.ClientRef),
		State:     enums.StateReceived,
		Currency:  "EUR",
	}
	if name := strings.TrimSpace(input.CustomerName); name != "" {
		draft.CustomerName = &name
	}
	if email := strings.TrimSpace(input.CustomerEmail); email != "" {
		draft.CustomerEmail = &email
	}
	for _, line := range input.Lines {
		item := models.QuoteLineItem{
			ID:          uuid.New(),
			QuoteID:     draft.ID,
			ItemCode:    strings.TrimSpace(line.ItemCode),
			DisplayName: strings.TrimSpace(line.Description),
			Quantity:    line.Quantity,
			Unit:        line.Unit,
			Origin:      enums.LineItemOriginRequester,
			Status:      enums.LineItemStatusPending,
		}
		if item.Unit == "" {
			item.Unit = "unit"
		}
		if item.ItemCode != "" {
			item.Origin = enums.LineItemOriginCatalog
		}
		if item.DisplayName == "" {
			item.DisplayName = item.ItemCode
		}
		draft.LineItems = append(draft.LineItems, item)
	}
	return draft
}
