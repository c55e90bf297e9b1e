package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/quoteflow-io/quoteflow-backend/internal/audit"
	"github.com/quoteflow-io/quoteflow-backend/internal/history"
	"github.com/quoteflow-io/quoteflow-backend/internal/justification"
	"github.com/quoteflow-io/quoteflow-backend/internal/pricing"
	"github.com/quoteflow-io/quoteflow-backend/internal/transport"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
	"github.com/quoteflow-io/quoteflow-backend/pkg/errors"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox/payloads"
)

// identifyClient resolves the requester against the customer directory,
// creating a new customer record when no match exists.
func (e *engine) identifyClient(ctx context.Context, draft *models.QuoteDraft) error {
	query := ""
	if draft.CustomerEmail != nil {
		query = *draft.CustomerEmail
	} else if draft.CustomerName != nil {
		query = *draft.CustomerName
	}

	customer, confidence, err := e.refs.ResolveCustomer(ctx, query)
	if err != nil {
		return halt("client_identification", err)
	}

	next := enums.StateClientIdentified
	summary := ""
	if customer != nil {
		summary = fmt.Sprintf("customer %s matched with confidence %d", customer.Code, confidence)
	} else {
		name, email := "", ""
		if draft.CustomerName != nil {
			name = *draft.CustomerName
		}
		if draft.CustomerEmail != nil {
			email = *draft.CustomerEmail
		}
		customer, err = e.refs.CreateCustomer(ctx, name, email)
		if err != nil {
			return halt("client_identification", err)
		}
		next = enums.StateClientCreated
		draft.CustomerIsNew = true
		confidence = 100
		summary = fmt.Sprintf("customer %s created from request contact", customer.Code)
	}

	draft.CustomerCode = &customer.Code
	if customer.Name != "" {
		name := customer.Name
		draft.CustomerName = &name
	}
	draft.CustomerConfidence = &confidence

	return e.advance(ctx, draft, next, audit.RecordTraceInput{
		Summary:     summary,
		DataSources: []string{"reference"},
	})
}

// identifyProducts resolves every requested line against the catalog. A line
// whose reference is ambiguous (several suppliers) or unknown is excluded and
// noted; the rest of the draft proceeds.
func (e *engine) identifyProducts(ctx context.Context, draft *models.QuoteDraft) error {
	var alerts []string
	resolved := 0

	for i := range draft.LineItems {
		item := &draft.LineItems[i]
		query := item.ItemCode
		if query == "" {
			query = item.DisplayName
		}

		catalogItem, confidence, err := e.refs.ResolveProduct(ctx, query)
		if err != nil {
			return halt("product_identification", err)
		}
		if catalogItem == nil {
			e.excludeLine(draft, item, fmt.Sprintf("no catalog match for %q", query))
			continue
		}
		if len(catalogItem.SupplierCodes) > 1 {
			e.excludeLine(draft, item, fmt.Sprintf(
				"item %s references %d suppliers, one expected", catalogItem.Code, len(catalogItem.SupplierCodes)))
			continue
		}
		if len(catalogItem.SupplierCodes) == 0 {
			e.excludeLine(draft, item, fmt.Sprintf("item %s has no supplier", catalogItem.Code))
			continue
		}

		item.ItemCode = catalogItem.Code
		if catalogItem.DisplayName != "" {
			item.DisplayName = catalogItem.DisplayName
		}
		if catalogItem.Unit != "" {
			item.Unit = catalogItem.Unit
		}
		item.WeightKG = catalogItem.WeightKG
		supplier := catalogItem.SupplierCodes[0]
		item.SupplierCode = &supplier
		item.Origin = enums.LineItemOriginCatalog
		resolved++
		if confidence < 100 {
			alerts = append(alerts, fmt.Sprintf("item %s matched with confidence %d", catalogItem.Code, confidence))
		}
	}

	if resolved == 0 {
		return halt("product_identification", errors.New(errors.CodeValidation,
			"no line item could be resolved against the catalog"))
	}

	if err := e.persistLineItems(ctx, draft); err != nil {
		return err
	}
	return e.advance(ctx, draft, enums.StateProductIdentified, audit.RecordTraceInput{
		Summary:     fmt.Sprintf("%d of %d line item(s) resolved", resolved, len(draft.LineItems)),
		DataSources: []string{"reference"},
		Alerts:      alerts,
	})
}

// excludeLine drops a line from pricing and gates the draft. A quote that
// silently omits a requested item must pass a human before it is sent, even
// when every priced line carries a clean decision.
func (e *engine) excludeLine(draft *models.QuoteDraft, item *models.QuoteLineItem, reason string) {
	item.Status = enums.LineItemStatusExcluded
	item.ExclusionReason = &reason
	draft.RequiresManualValidation = true
	draft.ValidationReasons = append(draft.ValidationReasons,
		fmt.Sprintf("line %s excluded: %s", lineLabel(item), reason))
}

func lineLabel(item *models.QuoteLineItem) string {
	if item.ItemCode != "" {
		return item.ItemCode
	}
	return item.DisplayName
}

func (e *engine) persistLineItems(ctx context.Context, draft *models.QuoteDraft) error {
	return e.client.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := e.repo.WithTx(tx)
		for i := range draft.LineItems {
			if err := txRepo.UpdateLineItem(ctx, &draft.LineItems[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// identifySuppliers confirms each active line carries exactly one supplier.
func (e *engine) identifySuppliers(ctx context.Context, draft *models.QuoteDraft) error {
	suppliers := make(map[string]struct{})
	for _, item := range activeLines(draft) {
		if item.SupplierCode != nil {
			suppliers[*item.SupplierCode] = struct{}{}
		}
	}
	return e.advance(ctx, draft, enums.StateSupplierIdentified, audit.RecordTraceInput{
		Summary:     fmt.Sprintf("%d supplier(s) identified across %d line(s)", len(suppliers), len(activeLines(draft))),
		DataSources: []string{"reference"},
	})
}

// priceSuppliers fetches the current supplier purchase price for every active
// line. Without any supplier cost a draft cannot be priced at all, so a
// failing lookup here halts the workflow.
func (e *engine) priceSuppliers(ctx context.Context, draft *models.QuoteDraft) (map[string]*history.Snapshot, error) {
	customerCode := ""
	if draft.CustomerCode != nil {
		customerCode = *draft.CustomerCode
	}

	snapshots := make(map[string]*history.Snapshot)
	for _, item := range activeLines(draft) {
		snapshot, err := e.histories.Lookup(ctx, item.ItemCode, customerCode)
		if err != nil {
			return nil, halt("supplier_pricing", err)
		}
		if !snapshot.SupplierPrice.IsPositive() {
			return nil, halt("supplier_pricing", errors.New(errors.CodeDependency,
				fmt.Sprintf("no supplier price available for item %s", item.ItemCode)))
		}
		snapshots[item.ItemCode] = snapshot
	}

	return snapshots, e.advance(ctx, draft, enums.StateSupplierPriced, audit.RecordTraceInput{
		Summary:     fmt.Sprintf("supplier prices fetched for %d line(s)", len(snapshots)),
		DataSources: []string{"history"},
	})
}

// priceLines fans pricing out across the active lines and commits the
// decisions with the pricing checkpoint traces in one transaction.
func (e *engine) priceLines(ctx context.Context, draft *models.QuoteDraft, snapshots map[string]*history.Snapshot) (map[string]*pricing.Decision, error) {
	customerCode := ""
	if draft.CustomerCode != nil {
		customerCode = *draft.CustomerCode
	}
	now := time.Now().UTC()

	var mu sync.Mutex
	decisions := make(map[string]*pricing.Decision)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.concurrency)
	for _, item := range activeLines(draft) {
		item := item
		snapshot := snapshots[item.ItemCode]
		group.Go(func() error {
			supplierCode := ""
			if item.SupplierCode != nil {
				supplierCode = *item.SupplierCode
			}
			decision, err := e.pricer.Price(groupCtx, pricing.Request{
				ItemCode:         item.ItemCode,
				CustomerCode:     customerCode,
				Quantity:         item.Quantity,
				SupplierCode:     supplierCode,
				SupplierPrice:    snapshot.SupplierPrice,
				SupplierCurrency: snapshot.SupplierCurrency,
				Now:              now,
			})
			if err != nil {
				return fmt.Errorf("pricing item %s: %w", item.ItemCode, err)
			}
			mu.Lock()
			decisions[item.ItemCode] = decision
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, halt("pricing", err)
	}

	for i := range draft.LineItems {
		item := &draft.LineItems[i]
		decision, ok := decisions[item.ItemCode]
		if !ok {
			continue
		}
		item.Status = enums.LineItemStatusPriced
		if decision.RequiresValidation {
			draft.RequiresManualValidation = true
			draft.ValidationReasons = append(draft.ValidationReasons,
				fmt.Sprintf("line %s priced via %s requires review", item.ItemCode, decision.Case))
		}
	}

	checkpoints := pricingCheckpoints(decisions, e.cfg.MarginFraction)
	previous := draft.State
	draft.State = enums.StatePricingIntelligentDone

	err := e.client.WithTx(ctx, func(tx *gorm.DB) error {
		txAuditor := e.auditor.WithTx(tx)
		txRepo := e.repo.WithTx(tx)

		for _, itemCode := range sortedKeys(decisions) {
			if _, err := txAuditor.RecordDecision(ctx, draft.ID, decisions[itemCode]); err != nil {
				return err
			}
		}
		for i := range draft.LineItems {
			if err := txRepo.UpdateLineItem(ctx, &draft.LineItems[i]); err != nil {
				return err
			}
		}
		if err := txRepo.Update(ctx, draft); err != nil {
			return err
		}
		for _, checkpoint := range checkpoints {
			checkpoint.QuoteID = draft.ID
			if _, err := txAuditor.RecordTrace(ctx, checkpoint); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		draft.State = previous
		return nil, err
	}

	for _, checkpoint := range checkpoints {
		e.metrics.IncTransition(string(checkpoint.State))
	}
	e.logg.Info(e.logg.WithWorkflowState(ctx, string(draft.State)), "pricing complete")
	return decisions, nil
}

// pricingCheckpoints renders the intermediate pricing states as ordered trace
// entries. They checkpoint one engine pass, not separate computations.
func pricingCheckpoints(decisions map[string]*pricing.Decision, marginFraction float64) []audit.RecordTraceInput {
	itemCodes := sortedKeys(decisions)

	caseParts := make([]string, 0, len(itemCodes))
	fxParts := make([]string, 0, len(itemCodes))
	discounted := 0
	margined := 0
	var alerts []string
	for _, itemCode := range itemCodes {
		decision := decisions[itemCode]
		caseParts = append(caseParts, fmt.Sprintf("%s=%s", itemCode, decision.Case))
		fxParts = append(fxParts, fmt.Sprintf("%s@%s", itemCode, decision.FxRate.StringFixed(4)))
		if decision.DiscountType != nil {
			discounted++
		}
		if decision.MarginFraction.IsPositive() {
			margined++
		}
		for _, alert := range decision.Alerts {
			alerts = append(alerts, fmt.Sprintf("%s: %s", itemCode, alert))
		}
	}

	return []audit.RecordTraceInput{
		{
			State:       enums.StateHistoricalAnalysisDone,
			Summary:     fmt.Sprintf("sales history analyzed for %d line(s)", len(itemCodes)),
			DataSources: []string{"history"},
		},
		{
			State:   enums.StatePricingCaseSelected,
			Summary: "pricing cases selected: " + strings.Join(caseParts, ", "),
		},
		{
			State:       enums.StateCurrencyApplied,
			Summary:     "conversion rates applied: " + strings.Join(fxParts, ", "),
			DataSources: []string{"currency"},
		},
		{
			State:       enums.StateSupplierDiscountApplied,
			Summary:     fmt.Sprintf("supplier discounts applied to %d line(s)", discounted),
			DataSources: []string{"discount"},
		},
		{
			State:   enums.StateMarginApplied,
			Summary: fmt.Sprintf("%.0f%% margin applied to %d recomputed line(s)", marginFraction*100, margined),
		},
		{
			State:   enums.StatePricingIntelligentDone,
			Summary: fmt.Sprintf("pricing complete for %d line(s)", len(itemCodes)),
			Alerts:  alerts,
		},
	}
}

// optimizeTransport quotes carriers on the total shipment weight and selects
// one deterministically.
func (e *engine) optimizeTransport(ctx context.Context, draft *models.QuoteDraft) error {
	var alerts []string
	weight := 0.0
	for _, item := range activeLines(draft) {
		if item.WeightKG == nil {
			alerts = append(alerts, fmt.Sprintf("item %s has no catalog weight, 0.0 kg assumed", item.ItemCode))
			continue
		}
		weight += *item.WeightKG * float64(item.Quantity)
	}

	destination := ""
	if draft.CustomerCode != nil {
		destination = *draft.CustomerCode
	}

	options, err := e.transports.Quote(ctx, weight, destination)
	if err != nil {
		return halt("transport_optimization", err)
	}
	selected, reason, err := transport.Select(options)
	if err != nil {
		return halt("transport_optimization", err)
	}

	alternatives, err := json.Marshal(options)
	if err != nil {
		return err
	}

	carrier := selected.Carrier
	leadDays := selected.LeadDays
	reliability := selected.Reliability
	draft.TransportCarrier = &carrier
	draft.TransportCost = selected.Cost
	draft.TransportLeadDays = &leadDays
	draft.TransportReliability = &reliability
	draft.TransportSelectedReason = &reason
	draft.TransportAlternatives = alternatives
	if len(alerts) > 0 {
		draft.ValidationReasons = append(draft.ValidationReasons, alerts...)
	}

	return e.advance(ctx, draft, enums.StateTransportOptimized, audit.RecordTraceInput{
		Summary:     fmt.Sprintf("carrier %s selected for %.1f kg: %s", carrier, weight, reason),
		DataSources: []string{"transport"},
		Alerts:      alerts,
	})
}

// buildJustification renders the full explanation block and checkpoints it.
func (e *engine) buildJustification(ctx context.Context, draft *models.QuoteDraft) error {
	records, err := e.auditor.DecisionsForQuote(ctx, draft.ID)
	if err != nil {
		return err
	}
	view, err := justification.Build(draft, records, nil)
	if err != nil {
		return halt("justification", err)
	}
	return e.advance(ctx, draft, enums.StateJustificationBuilt, audit.RecordTraceInput{
		Summary:       fmt.Sprintf("justification built for %d line(s)", len(view.Lines)),
		Justification: view.Text,
	})
}

// sumPricedLines walks the draft lines and returns the subtotal of the priced
// ones, checking each against its decision on the way.
func sumPricedLines(draft *models.QuoteDraft, decisions map[string]*pricing.Decision) (decimal.Decimal, int, error) {
	subtotal := decimal.Zero
	pricedLines := 0
	for _, item := range draft.LineItems {
		switch item.Status {
		case enums.LineItemStatusPriced:
			decision, ok := decisions[item.ItemCode]
			if !ok {
				return decimal.Zero, 0, halt("coherence_validation", errors.New(errors.CodeInternal,
					fmt.Sprintf("priced line %s has no decision", item.ItemCode)))
			}
			if decision.Quantity != item.Quantity {
				return decimal.Zero, 0, halt("coherence_validation", errors.New(errors.CodeInternal,
					fmt.Sprintf("line %s priced for quantity %d, requested %d",
						item.ItemCode, decision.Quantity, item.Quantity)))
			}
			subtotal = subtotal.Add(decision.LineTotal())
			pricedLines++
		case enums.LineItemStatusExcluded:
		default:
			return decimal.Zero, 0, halt("coherence_validation", errors.New(errors.CodeInternal,
				fmt.Sprintf("line %s is still pending after pricing", item.ItemCode)))
		}
	}
	if pricedLines == 0 {
		return decimal.Zero, 0, halt("coherence_validation", errors.New(errors.CodeInternal,
			"no priced line survived the workflow"))
	}
	return subtotal, pricedLines, nil
}

// computeTotals writes the grand totals onto the draft. It runs before the
// justification renders so the persisted block carries the final amounts.
func (e *engine) computeTotals(draft *models.QuoteDraft, decisions map[string]*pricing.Decision) error {
	subtotal, _, err := sumPricedLines(draft, decisions)
	if err != nil {
		return err
	}
	draft.ProductSubtotal = subtotal
	draft.TotalHT = subtotal.Add(draft.TransportCost)
	draft.TaxRate = decimal.NewFromFloat(e.cfg.TaxRate)
	draft.TotalTTC = draft.TotalHT.Mul(decimal.NewFromInt(1).Add(draft.TaxRate)).Round(2)
	return nil
}

// validateCoherence independently recomputes the totals from the recorded
// decisions and fails the draft on any mismatch with what the draft carries.
// It is the last gate before generation.
func (e *engine) validateCoherence(ctx context.Context, draft *models.QuoteDraft, decisions map[string]*pricing.Decision) error {
	subtotal, pricedLines, err := sumPricedLines(draft, decisions)
	if err != nil {
		return err
	}

	recorded, err := e.auditor.DecisionsForQuote(ctx, draft.ID)
	if err != nil {
		return err
	}
	if len(recorded) != len(decisions) {
		return halt("coherence_validation", errors.New(errors.CodeInternal,
			fmt.Sprintf("%d decisions recorded, %d computed", len(recorded), len(decisions))))
	}

	if !draft.ProductSubtotal.Equal(subtotal) {
		return halt("coherence_validation", errors.New(errors.CodeInternal,
			fmt.Sprintf("draft subtotal %s does not reconcile with line totals %s",
				draft.ProductSubtotal.StringFixed(2), subtotal.StringFixed(2))))
	}
	expectedHT := subtotal.Add(draft.TransportCost)
	if !draft.TotalHT.Equal(expectedHT) {
		return halt("coherence_validation", errors.New(errors.CodeInternal,
			fmt.Sprintf("total HT %s does not reconcile, expected %s",
				draft.TotalHT.StringFixed(2), expectedHT.StringFixed(2))))
	}
	expectedTTC := expectedHT.Mul(decimal.NewFromInt(1).Add(draft.TaxRate)).Round(2)
	if !draft.TotalTTC.Equal(expectedTTC) {
		return halt("coherence_validation", errors.New(errors.CodeInternal,
			fmt.Sprintf("total TTC %s does not reconcile, expected %s",
				draft.TotalTTC.StringFixed(2), expectedTTC.StringFixed(2))))
	}

	return e.advance(ctx, draft, enums.StateCoherenceValidated, audit.RecordTraceInput{
		Summary: fmt.Sprintf("totals verified: %d line(s) at %s plus transport %s",
			pricedLines, subtotal.StringFixed(2), draft.TransportCost.StringFixed(2)),
	})
}

func (e *engine) generateQuote(ctx context.Context, draft *models.QuoteDraft) error {
	return e.advance(ctx, draft, enums.StateQuoteGenerated,
		audit.RecordTraceInput{
			Summary: fmt.Sprintf("quote generated: total HT %s %s", draft.TotalHT.StringFixed(2), draft.Currency),
		},
		outbox.DomainEvent{
			EventType:     enums.EventQuoteGenerated,
			AggregateType: enums.AggregateQuoteDraft,
			AggregateID:   draft.ID,
			Version:       1,
			Data: payloads.QuoteGeneratedEvent{
				QuoteID:                  draft.ID,
				CustomerCode:             draft.CustomerCode,
				TotalHT:                  draft.TotalHT,
				TotalTTC:                 draft.TotalTTC,
				Currency:                 draft.Currency,
				RequiresManualValidation: draft.RequiresManualValidation,
			},
		})
}

func activeLines(draft *models.QuoteDraft) []models.QuoteLineItem {
	var active []models.QuoteLineItem
	for _, item := range draft.LineItems {
		if item.Status != enums.LineItemStatusExcluded {
			active = append(active, item)
		}
	}
	return active
}

func sortedKeys(decisions map[string]*pricing.Decision) []string {
	keys := make([]string, 0, len(decisions))
	for key := range decisions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
