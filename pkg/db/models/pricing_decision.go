package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

// PricingDecisionRecord is the persisted, append-only audit form of one pricing
// decision. Rows are never updated or deleted after creation.
type PricingDecisionRecord struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	QuoteID  uuid.UUID `gorm:"column:quote_id;type:uuid;not null;index:idx_pricing_decisions_quote_item"`
	ItemCode string    `gorm:"column:item_code;not null;index:idx_pricing_decisions_quote_item"`

	Case            enums.PricingCase `gorm:"column:pricing_case;type:pricing_case_enum;not null"`
	UnitPrice       decimal.Decimal   `gorm:"column:unit_price;type:numeric(14,4);not null"`
	NetSupplierCost decimal.Decimal   `gorm:"column:net_supplier_cost;type:numeric(14,4);not null"`

	SupplierPrice    decimal.Decimal `gorm:"column:supplier_price;type:numeric(14,4);not null"`
	SupplierCurrency string          `gorm:"column:supplier_currency;not null"`
	FxRate           decimal.Decimal `gorm:"column:fx_rate;type:numeric(14,6);not null"`

	DiscountType  *enums.DiscountType `gorm:"column:discount_type;type:discount_type_enum"`
	DiscountValue decimal.NullDecimal `gorm:"column:discount_value;type:numeric(14,4)"`

	MarginFraction decimal.Decimal `gorm:"column:margin_fraction;type:numeric(6,4);not null"`

	Justification      string         `gorm:"column:justification;not null"`
	Confidence         int            `gorm:"column:confidence;not null"`
	Alerts             pq.StringArray `gorm:"column:alerts;type:text[];default:ARRAY[]::text[]"`
	RequiresValidation bool           `gorm:"column:requires_validation;not null;default:false"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName maps the record to its migration-managed table.
func (PricingDecisionRecord) TableName() string {
	return "pricing_decisions"
}
