package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

// QuoteLineItem is one requested product on a quote draft. Identity is fixed
// at creation; quantity and weight are read-only inputs to pricing.
type QuoteLineItem struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	QuoteID     uuid.UUID            `gorm:"column:quote_id;type:uuid;not null;index"`
	ItemCode    string               `gorm:"column:item_code;not null"`
	DisplayName string               `gorm:"column:display_name;not null"`
	Quantity    int                  `gorm:"column:quantity;not null"`
	Unit        string               `gorm:"column:unit;not null;default:'unit'"`
	WeightKG    *float64             `gorm:"column:weight_kg"`
	Origin      enums.LineItemOrigin `gorm:"column:origin;type:line_item_origin_enum;not null"`

	SupplierCode    *string              `gorm:"column:supplier_code"`
	Status          enums.LineItemStatus `gorm:"column:status;type:line_item_status_enum;not null;default:'pending'"`
	ExclusionReason *string              `gorm:"column:exclusion_reason"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
