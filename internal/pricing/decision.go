package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

// Request is the input for pricing one line item. Supplier price and currency
// are resolved upstream by the workflow before the engine runs.
type Request struct {
	ItemCode         string
	CustomerCode     string
	Quantity         int
	SupplierCode     string
	SupplierPrice    decimal.Decimal
	SupplierCurrency string
	Now              time.Time
}

// Decision is one immutable pricing outcome for a line item. Every field that
// influenced the price (rate, discount, margin) is recorded for audit.
type Decision struct {
	ItemCode     string
	CustomerCode string
	Quantity     int

	Case      enums.PricingCase
	UnitPrice decimal.Decimal

	SupplierPrice    decimal.Decimal
	SupplierCurrency string
	FxRate           decimal.Decimal
	NetSupplierCost  decimal.Decimal

	DiscountType  *enums.DiscountType
	DiscountValue decimal.NullDecimal

	MarginFraction decimal.Decimal

	Justification      string
	Confidence         int
	Alerts             []string
	RequiresValidation bool
}

// LineTotal returns quantity times unit price.
func (d *Decision) LineTotal() decimal.Decimal {
	return d.UnitPrice.Mul(decimal.NewFromInt(int64(d.Quantity)))
}

// Confidence constants per pricing case. Fixed values keep the output
// deterministic for identical inputs.
const (
	confidenceClientStable    = 95
	confidenceMarketReference = 85
	confidenceClientRepriced  = 70
	confidenceNewProduct      = 50
	confidenceFallback        = 30
)
