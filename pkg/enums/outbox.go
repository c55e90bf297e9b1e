package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateQuoteDraft        OutboxAggregateType = "quote_draft"
	AggregateValidationRequest OutboxAggregateType = "validation_request"
	AggregatePricingDecision   OutboxAggregateType = "pricing_decision"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateQuoteDraft,
	AggregateValidationRequest,
	AggregatePricingDecision,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventQuoteReceived       OutboxEventType = "quote_received"
	EventQuoteGenerated      OutboxEventType = "quote_generated"
	EventQuoteSent           OutboxEventType = "quote_sent"
	EventQuoteRejected       OutboxEventType = "quote_rejected"
	EventQuoteFailed         OutboxEventType = "quote_failed"
	EventValidationRequested OutboxEventType = "validation_requested"
	EventValidationRecorded  OutboxEventType = "validation_recorded"
	EventValidationExpired   OutboxEventType = "validation_expired"
)

var validOutboxEventTypes = []OutboxEventType{
	EventQuoteReceived,
	EventQuoteGenerated,
	EventQuoteSent,
	EventQuoteRejected,
	EventQuoteFailed,
	EventValidationRequested,
	EventValidationRecorded,
	EventValidationExpired,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
