package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/internal/discount"
	"github.com/quoteflow-io/quoteflow-backend/internal/history"
	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// decide runs the four-case decision tree. It is a pure function: identical
// inputs always produce an identical decision.
func decide(req Request, snap *history.Snapshot, fx decimal.Decimal, disc *discount.Discount, cfg config.PricingConfig) *Decision {
	if snap.CustomerSale == nil {
		if len(snap.OtherSales) >= cfg.MinReferenceSales {
			if d := decideMarketReference(req, snap.OtherSales, fx, cfg); d != nil {
				return d
			}
			// Reference sales exist but carry no usable quantities.
			d := decideNewProduct(req, fx, disc, cfg)
			d.Alerts = append(d.Alerts,
				fmt.Sprintf("%d reference sale(s) with zero total quantity, weighted average undefined", len(snap.OtherSales)))
			return d
		}
		d := decideNewProduct(req, fx, disc, cfg)
		if n := len(snap.OtherSales); n > 0 {
			d.Alerts = append(d.Alerts,
				fmt.Sprintf("only %d reference sale(s) to other customers, minimum is %d", n, cfg.MinReferenceSales))
		}
		return d
	}

	sale := snap.CustomerSale
	threshold := decimal.NewFromFloat(cfg.StabilityThreshold)
	if sale.SupplierPriceAtSale.IsPositive() {
		variation := req.SupplierPrice.Sub(sale.SupplierPriceAtSale).Div(sale.SupplierPriceAtSale)
		if variation.Abs().LessThanOrEqual(threshold) {
			return decideClientStable(req, sale, variation, threshold, fx)
		}
		return decideClientRepriced(req, variation, threshold, fx, disc, cfg)
	}

	// No usable supplier price at the last sale, reprice from current cost.
	d := decideClientRepriced(req, decimal.Zero, threshold, fx, disc, cfg)
	d.Alerts = []string{"supplier price at last sale is missing, price recomputed from current cost"}
	return d
}

// decideClientStable reuses the price charged at the last sale to this
// customer. The supplier price moved within the stability threshold.
func decideClientStable(req Request, sale *history.CustomerSale, variation, threshold, fx decimal.Decimal) *Decision {
	unitPrice := sale.UnitPrice.Round(2)
	return &Decision{
		ItemCode:         req.ItemCode,
		CustomerCode:     req.CustomerCode,
		Quantity:         req.Quantity,
		Case:             enums.PricingCaseClientStable,
		UnitPrice:        unitPrice,
		SupplierPrice:    req.SupplierPrice,
		SupplierCurrency: req.SupplierCurrency,
		FxRate:           fx,
		NetSupplierCost:  req.SupplierPrice.Mul(fx),
		MarginFraction:   decimal.Zero,
		Justification: fmt.Sprintf("supplier price moved %s%% since the last sale, within the %s%% stability threshold: last price %s kept",
			signedPercent(variation), threshold.Mul(hundred).StringFixed(2), unitPrice.StringFixed(2)),
		Confidence:         confidenceClientStable,
		RequiresValidation: false,
	}
}

// decideClientRepriced recomputes the price from the current supplier cost
// because the supplier price drifted beyond the stability threshold.
func decideClientRepriced(req Request, variation, threshold, fx decimal.Decimal, disc *discount.Discount, cfg config.PricingConfig) *Decision {
	d := marginDecision(req, fx, disc, cfg)
	d.Case = enums.PricingCaseClientRepriced
	d.Confidence = confidenceClientRepriced
	d.RequiresValidation = true
	d.Justification = fmt.Sprintf("supplier price moved %s%% since the last sale, beyond the %s%% stability threshold: price recomputed from net cost %s at %s%% margin",
		signedPercent(variation), threshold.Mul(hundred).StringFixed(2),
		d.NetSupplierCost.StringFixed(2), d.MarginFraction.Mul(hundred).StringFixed(2))
	d.Alerts = append(d.Alerts,
		fmt.Sprintf("supplier price variation %s%% exceeds the %s%% stability threshold",
			signedPercent(variation), threshold.Mul(hundred).StringFixed(2)))
	return d
}

// decideMarketReference prices from the quantity-weighted average of prior
// sales to other customers. Returns nil when the reference quantities sum to
// zero: the average is undefined and the caller falls back to cost-plus-margin.
func decideMarketReference(req Request, refs []history.ReferenceSale, fx decimal.Decimal, cfg config.PricingConfig) *Decision {
	weighted := decimal.Zero
	totalQty := decimal.Zero
	for _, ref := range refs {
		if ref.Quantity <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(ref.Quantity))
		weighted = weighted.Add(ref.UnitPrice.Mul(qty))
		totalQty = totalQty.Add(qty)
	}
	if totalQty.IsZero() {
		return nil
	}
	unitPrice := weighted.Div(totalQty).Round(2)
	return &Decision{
		ItemCode:         req.ItemCode,
		CustomerCode:     req.CustomerCode,
		Quantity:         req.Quantity,
		Case:             enums.PricingCaseMarketReference,
		UnitPrice:        unitPrice,
		SupplierPrice:    req.SupplierPrice,
		SupplierCurrency: req.SupplierCurrency,
		FxRate:           fx,
		NetSupplierCost:  req.SupplierPrice.Mul(fx),
		MarginFraction:   decimal.Zero,
		Justification: fmt.Sprintf("no prior sale to this customer: quantity-weighted average of %d reference sales to other customers is %s",
			len(refs), unitPrice.StringFixed(2)),
		Confidence:         confidenceMarketReference,
		RequiresValidation: false,
	}
}

// decideNewProduct prices a never-sold item from supplier cost plus margin.
func decideNewProduct(req Request, fx decimal.Decimal, disc *discount.Discount, cfg config.PricingConfig) *Decision {
	d := marginDecision(req, fx, disc, cfg)
	d.Case = enums.PricingCaseNewProduct
	d.Confidence = confidenceNewProduct
	d.RequiresValidation = true
	d.Justification = fmt.Sprintf("never sold before: net supplier cost %s priced at %s%% margin",
		d.NetSupplierCost.StringFixed(2), d.MarginFraction.Mul(hundred).StringFixed(2))
	return d
}

// marginDecision computes the cost-plus-margin price shared by the repriced
// and new-product cases. The currency conversion happens exactly once, before
// discount and margin.
func marginDecision(req Request, fx decimal.Decimal, disc *discount.Discount, cfg config.PricingConfig) *Decision {
	netCost := req.SupplierPrice.Mul(fx)

	d := &Decision{
		ItemCode:         req.ItemCode,
		CustomerCode:     req.CustomerCode,
		Quantity:         req.Quantity,
		SupplierPrice:    req.SupplierPrice,
		SupplierCurrency: req.SupplierCurrency,
		FxRate:           fx,
		MarginFraction:   decimal.NewFromFloat(cfg.MarginFraction),
	}

	if disc != nil {
		lineAmount := netCost.Mul(decimal.NewFromInt(int64(req.Quantity)))
		if disc.AppliesTo(req.Quantity, lineAmount, req.Now) {
			netCost = disc.Apply(netCost)
			discType := disc.Type
			d.DiscountType = &discType
			d.DiscountValue = decimal.NewNullDecimal(disc.Value)
		}
	}

	d.NetSupplierCost = netCost
	d.UnitPrice = netCost.Div(one.Sub(d.MarginFraction)).Round(2)
	return d
}

// signedPercent renders a variation fraction as an explicitly signed
// percentage, e.g. "+20.00" or "-3.10".
func signedPercent(variation decimal.Decimal) string {
	pct := variation.Mul(hundred)
	if pct.Sign() >= 0 {
		return "+" + pct.StringFixed(2)
	}
	return pct.StringFixed(2)
}
