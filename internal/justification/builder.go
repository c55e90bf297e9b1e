package justification

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
	"github.com/quoteflow-io/quoteflow-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

func quantity(q int) decimal.Decimal {
	return decimal.NewFromInt(int64(q))
}

// LineView is the explained pricing outcome for one quoted product.
type LineView struct {
	ItemCode      string   `json:"item_code"`
	DisplayName   string   `json:"display_name"`
	Quantity      int      `json:"quantity"`
	PricingCase   string   `json:"pricing_case"`
	Justification string   `json:"justification"`
	SupplierPrice string   `json:"supplier_price"`
	FxRate        string   `json:"fx_rate"`
	Discount      string   `json:"discount,omitempty"`
	Margin        string   `json:"margin,omitempty"`
	UnitPrice     string   `json:"unit_price"`
	LineTotal     string   `json:"line_total"`
	Confidence    int      `json:"confidence"`
	Alerts        []string `json:"alerts,omitempty"`
	Excluded      bool     `json:"excluded"`
	ExclusionNote string   `json:"exclusion_note,omitempty"`
}

// TransportView explains the selected carrier.
type TransportView struct {
	Carrier     string `json:"carrier"`
	Cost        string `json:"cost"`
	LeadDays    int    `json:"lead_days"`
	Reason      string `json:"reason"`
	Reliability string `json:"reliability,omitempty"`
}

// View is the complete justification block for a quote. Rendering it twice
// for the same inputs yields byte-identical output.
type View struct {
	QuoteID   string         `json:"quote_id"`
	Lines     []LineView     `json:"lines"`
	Transport *TransportView `json:"transport,omitempty"`
	TotalHT   string         `json:"total_ht"`
	TotalTTC  string         `json:"total_ttc"`
	Currency  string         `json:"currency"`
	Alerts    []string       `json:"alerts,omitempty"`
	Overrides []string       `json:"overrides,omitempty"`
	Text      string         `json:"text"`
}

// Build assembles the justification block from the draft and its recorded
// pricing decisions. Every priced line must have exactly one decision.
// overrides carries validator price adjustments applied after the decisions
// were recorded; line figures keep the recorded prices, so the overrides
// explain why the totals differ from the line sums.
func Build(draft *models.QuoteDraft, decisions []models.PricingDecisionRecord, overrides []string) (*View, error) {
	if draft == nil {
		return nil, errors.New(errors.CodeInternal, "quote draft is required")
	}

	byItem := make(map[string]*models.PricingDecisionRecord, len(decisions))
	for i := range decisions {
		record := &decisions[i]
		if _, dup := byItem[record.ItemCode]; dup {
			return nil, errors.New(errors.CodeInternal,
				fmt.Sprintf("item %s has more than one pricing decision", record.ItemCode))
		}
		byItem[record.ItemCode] = record
	}

	items := make([]models.QuoteLineItem, len(draft.LineItems))
	copy(items, draft.LineItems)
	sort.Slice(items, func(i, j int) bool { return items[i].ItemCode < items[j].ItemCode })

	view := &View{
		QuoteID:  draft.ID.String(),
		TotalHT:  draft.TotalHT.StringFixed(2),
		TotalTTC: draft.TotalTTC.StringFixed(2),
		Currency: draft.Currency,
		Alerts:   append([]string(nil), draft.ValidationReasons...),
	}
	if len(overrides) > 0 {
		view.Overrides = append([]string(nil), overrides...)
	}

	for _, item := range items {
		if item.Status == enums.LineItemStatusExcluded {
			line := LineView{
				ItemCode:    item.ItemCode,
				DisplayName: item.DisplayName,
				Quantity:    item.Quantity,
				Excluded:    true,
			}
			if item.ExclusionReason != nil {
				line.ExclusionNote = *item.ExclusionReason
			}
			view.Lines = append(view.Lines, line)
			continue
		}

		record, ok := byItem[item.ItemCode]
		if !ok {
			return nil, errors.New(errors.CodeInternal,
				fmt.Sprintf("item %s has no pricing decision", item.ItemCode))
		}
		view.Lines = append(view.Lines, lineView(item, record))
	}

	if draft.TransportCarrier != nil {
		transport := &TransportView{
			Carrier: *draft.TransportCarrier,
			Cost:    draft.TransportCost.StringFixed(2),
		}
		if draft.TransportLeadDays != nil {
			transport.LeadDays = *draft.TransportLeadDays
		}
		if draft.TransportSelectedReason != nil {
			transport.Reason = *draft.TransportSelectedReason
		}
		if draft.TransportReliability != nil {
			transport.Reliability = fmt.Sprintf("%.2f", *draft.TransportReliability)
		}
		view.Transport = transport
	}

	view.Text = render(view)
	return view, nil
}

func lineView(item models.QuoteLineItem, record *models.PricingDecisionRecord) LineView {
	line := LineView{
		ItemCode:      item.ItemCode,
		DisplayName:   item.DisplayName,
		Quantity:      item.Quantity,
		PricingCase:   string(record.Case),
		Justification: record.Justification,
		SupplierPrice: record.SupplierPrice.StringFixed(2) + " " + record.SupplierCurrency,
		FxRate:        record.FxRate.StringFixed(4),
		UnitPrice:     record.UnitPrice.StringFixed(2),
		LineTotal:     record.UnitPrice.Mul(quantity(item.Quantity)).StringFixed(2),
		Confidence:    record.Confidence,
		Alerts:        append([]string(nil), record.Alerts...),
	}
	if record.DiscountType != nil && record.DiscountValue.Valid {
		line.Discount = fmt.Sprintf("%s %s", *record.DiscountType, record.DiscountValue.Decimal.StringFixed(2))
	}
	if record.MarginFraction.IsPositive() {
		line.Margin = record.MarginFraction.Mul(hundred).StringFixed(2) + "%"
	}
	return line
}

func render(view *View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Quote %s\n", view.QuoteID)

	for _, line := range view.Lines {
		if line.Excluded {
			fmt.Fprintf(&b, "- %s x%d: excluded (%s)\n", line.ItemCode, line.Quantity, line.ExclusionNote)
			continue
		}
		fmt.Fprintf(&b, "- %s x%d [%s] unit %s, total %s\n", line.ItemCode, line.Quantity, line.PricingCase, line.UnitPrice, line.LineTotal)
		fmt.Fprintf(&b, "  basis: %s\n", line.Justification)
		fmt.Fprintf(&b, "  supplier %s at rate %s", line.SupplierPrice, line.FxRate)
		if line.Discount != "" {
			fmt.Fprintf(&b, ", discount %s", line.Discount)
		}
		if line.Margin != "" {
			fmt.Fprintf(&b, ", margin %s", line.Margin)
		}
		fmt.Fprintf(&b, ", confidence %d\n", line.Confidence)
		for _, alert := range line.Alerts {
			fmt.Fprintf(&b, "  alert: %s\n", alert)
		}
	}

	if view.Transport != nil {
		fmt.Fprintf(&b, "Transport: %s at %s, %d day(s), %s\n",
			view.Transport.Carrier, view.Transport.Cost, view.Transport.LeadDays, view.Transport.Reason)
	}
	fmt.Fprintf(&b, "Total HT %s %s, total TTC %s %s\n", view.TotalHT, view.Currency, view.TotalTTC, view.Currency)
	for _, override := range view.Overrides {
		fmt.Fprintf(&b, "Override: %s\n", override)
	}
	for _, alert := range view.Alerts {
		fmt.Fprintf(&b, "Alert: %s\n", alert)
	}
	return b.String()
}
