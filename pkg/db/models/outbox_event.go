package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

// OutboxEvent is a quote lifecycle event written in the same transaction as
// the workflow state change it announces, so an event exists exactly when
// its state change committed. PublishedAt nil marks it undelivered;
// AttemptCount and LastError track the publisher's retry budget.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
}

// TableName maps the record to its migration-managed table.
func (OutboxEvent) TableName() string {
	return "outbox_events"
}
