package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

// ValidationRequest tracks one manual-approval cycle for a quote draft that
// requires human validation before dispatch.
type ValidationRequest struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	QuoteID uuid.UUID `gorm:"column:quote_id;type:uuid;not null;index"`

	Status   enums.ValidationStatus    `gorm:"column:status;type:validation_status_enum;not null;default:'pending'"`
	Decision *enums.ValidationDecision `gorm:"column:decision;type:validation_decision_enum"`
	Actor    *string                   `gorm:"column:actor"`
	Reason   *string                   `gorm:"column:reason"`

	// PriceOverrides holds item_code -> new unit price for modify_price decisions.
	PriceOverrides json.RawMessage `gorm:"column:price_overrides;type:jsonb"`

	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	DecidedAt *time.Time `gorm:"column:decided_at"`
}
