package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

// QuoteReceivedEvent signals a new quote request entered the workflow.
type QuoteReceivedEvent struct {
	QuoteID   uuid.UUID `json:"quote_id"`
	Source    string    `json:"source"`
	ClientRef string    `json:"client_ref"`
	ItemCount int       `json:"item_count"`
}

// QuoteGeneratedEvent is emitted when a draft reaches the generated state.
type QuoteGeneratedEvent struct {
	QuoteID                  uuid.UUID       `json:"quote_id"`
	CustomerCode             *string         `json:"customer_code,omitempty"`
	TotalHT                  decimal.Decimal `json:"total_ht"`
	TotalTTC                 decimal.Decimal `json:"total_ttc"`
	Currency                 string          `json:"currency"`
	RequiresManualValidation bool            `json:"requires_manual_validation"`
}

// QuoteSentEvent confirms a quote was dispatched to the requester.
type QuoteSentEvent struct {
	QuoteID uuid.UUID `json:"quote_id"`
	SentAt  time.Time `json:"sent_at"`
}

// QuoteRejectedEvent is emitted when a validator rejects a quote.
type QuoteRejectedEvent struct {
	QuoteID    uuid.UUID `json:"quote_id"`
	Actor      string    `json:"actor,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RejectedAt time.Time `json:"rejected_at"`
}

// QuoteFailedEvent reports a workflow that could not complete.
type QuoteFailedEvent struct {
	QuoteID       uuid.UUID `json:"quote_id"`
	FailureStep   string    `json:"failure_step"`
	FailureReason string    `json:"failure_reason"`
}

// ValidationRequestedEvent asks a human validator to review a quote.
type ValidationRequestedEvent struct {
	ValidationID uuid.UUID       `json:"validation_id"`
	QuoteID      uuid.UUID       `json:"quote_id"`
	Reasons      []string        `json:"reasons"`
	TotalHT      decimal.Decimal `json:"total_ht"`
}

// ValidationRecordedEvent carries the outcome of a manual review.
type ValidationRecordedEvent struct {
	ValidationID uuid.UUID                `json:"validation_id"`
	QuoteID      uuid.UUID                `json:"quote_id"`
	Decision     enums.ValidationDecision `json:"decision"`
	Actor        string                   `json:"actor,omitempty"`
	DecidedAt    time.Time                `json:"decided_at"`
}

// ValidationExpiredEvent reports that a pending review timed out.
type ValidationExpiredEvent struct {
	ValidationID uuid.UUID `json:"validation_id"`
	QuoteID      uuid.UUID `json:"quote_id"`
	ExpiredAt    time.Time `json:"expired_at"`
}
