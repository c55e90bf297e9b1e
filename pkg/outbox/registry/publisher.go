package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// NewEventRegistry builds the registry with the configured topic names.
// Lifecycle events fan out on the domain topic; events that require a human
// to act go to the notification topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, fmt.Errorf("domain topic is required")
	}
	if cfg.NotificationTopic == "" {
		return nil, fmt.Errorf("notification topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	domainTopic := cfg.DomainTopic
	notificationTopic := cfg.NotificationTopic

	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventQuoteReceived,
			AggregateType:  enums.AggregateQuoteDraft,
			Topic:          domainTopic,
			PayloadFactory: func() interface{} { return &payloads.QuoteReceivedEvent{} },
		},
		{
			EventType:      enums.EventQuoteGenerated,
			AggregateType:  enums.AggregateQuoteDraft,
			Topic:          domainTopic,
			PayloadFactory: func() interface{} { return &payloads.QuoteGeneratedEvent{} },
		},
		{
			EventType:      enums.EventQuoteSent,
			AggregateType:  enums.AggregateQuoteDraft,
			Topic:          domainTopic,
			PayloadFactory: func() interface{} { return &payloads.QuoteSentEvent{} },
		},
		{
			EventType:      enums.EventQuoteRejected,
			AggregateType:  enums.AggregateQuoteDraft,
			Topic:          domainTopic,
			PayloadFactory: func() interface{} { return &payloads.QuoteRejectedEvent{} },
		},
		{
			EventType:      enums.EventQuoteFailed,
			AggregateType:  enums.AggregateQuoteDraft,
			Topic:          domainTopic,
			PayloadFactory: func() interface{} { return &payloads.QuoteFailedEvent{} },
		},
	} {
		reg.register(desc)
	}

	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventValidationRequested,
			AggregateType:  enums.AggregateValidationRequest,
			Topic:          notificationTopic,
			PayloadFactory: func() interface{} { return &payloads.ValidationRequestedEvent{} },
		},
		{
			EventType:      enums.EventValidationRecorded,
			AggregateType:  enums.AggregateValidationRequest,
			Topic:          notificationTopic,
			PayloadFactory: func() interface{} { return &payloads.ValidationRecordedEvent{} },
		},
		{
			EventType:      enums.EventValidationExpired,
			AggregateType:  enums.AggregateValidationRequest,
			Topic:          notificationTopic,
			PayloadFactory: func() interface{} { return &payloads.ValidationExpiredEvent{} },
		},
	} {
		reg.register(desc)
	}

	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	if desc.PayloadFactory == nil {
		return nil, NewNonRetryableError(fmt.Errorf("payload factory not configured for %s", event.EventType))
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}
