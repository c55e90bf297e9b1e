package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

// QuoteDraft is the aggregate root for one quote request lifecycle. It is
// mutated only by the workflow engine and becomes immutable once the state is
// terminal. All monetary columns are in the base currency (EUR).
type QuoteDraft struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Source    string    `gorm:"column:source;not null"`
	ClientRef string    `gorm:"column:client_ref;not null"`

	CustomerCode       *string `gorm:"column:customer_code"`
	CustomerName       *string `gorm:"column:customer_name"`
	CustomerEmail      *string `gorm:"column:customer_email"`
	CustomerIsNew      bool    `gorm:"column:customer_is_new;not null;default:false"`
	CustomerConfidence *int    `gorm:"column:customer_confidence"`

	State                    enums.WorkflowState `gorm:"column:state;type:workflow_state_enum;not null"`
	RequiresManualValidation bool                `gorm:"column:requires_manual_validation;not null;default:false"`
	ValidationReasons        pq.StringArray      `gorm:"column:validation_reasons;type:text[];default:ARRAY[]::text[]"`

	TransportCarrier        *string         `gorm:"column:transport_carrier"`
	TransportCost           decimal.Decimal `gorm:"column:transport_cost;type:numeric(14,4);not null;default:0"`
	TransportLeadDays       *int            `gorm:"column:transport_lead_days"`
	TransportReliability    *float64        `gorm:"column:transport_reliability"`
	TransportSelectedReason *string         `gorm:"column:transport_selected_reason"`
	TransportAlternatives   json.RawMessage `gorm:"column:transport_alternatives;type:jsonb"`

	ProductSubtotal decimal.Decimal `gorm:"column:product_subtotal;type:numeric(14,4);not null;default:0"`
	TotalHT         decimal.Decimal `gorm:"column:total_ht;type:numeric(14,4);not null;default:0"`
	TaxRate         decimal.Decimal `gorm:"column:tax_rate;type:numeric(6,4);not null;default:0"`
	TotalTTC        decimal.Decimal `gorm:"column:total_ttc;type:numeric(14,4);not null;default:0"`
	Currency        string          `gorm:"column:currency;not null;default:'EUR'"`

	FailureStep   *string `gorm:"column:failure_step"`
	FailureReason *string `gorm:"column:failure_reason"`

	LineItems []QuoteLineItem `gorm:"foreignKey:QuoteID"`

	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	TerminalAt *time.Time `gorm:"column:terminal_at"`
}
