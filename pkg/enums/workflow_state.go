package enums

import "fmt"

// WorkflowState tracks the strictly forward lifecycle of a quote draft.
type WorkflowState string

const (
	StateReceived                 WorkflowState = "received"
	StateClientIdentified         WorkflowState = "client_identified"
	StateClientCreated            WorkflowState = "client_created"
	StateProductIdentified        WorkflowState = "product_identified"
	StateSupplierIdentified       WorkflowState = "supplier_identified"
	StateSupplierPriced           WorkflowState = "supplier_priced"
	StateHistoricalAnalysisDone   WorkflowState = "historical_analysis_done"
	StatePricingCaseSelected      WorkflowState = "pricing_case_selected"
	StateCurrencyApplied          WorkflowState = "currency_applied"
	StateSupplierDiscountApplied  WorkflowState = "supplier_discount_applied"
	StateMarginApplied            WorkflowState = "margin_applied"
	StatePricingIntelligentDone   WorkflowState = "pricing_intelligent_done"
	StateTransportOptimized       WorkflowState = "transport_optimized"
	StateJustificationBuilt       WorkflowState = "justification_built"
	StateCoherenceValidated       WorkflowState = "coherence_validated"
	StateQuoteGenerated           WorkflowState = "quote_generated"
	StateManualValidationRequired WorkflowState = "manual_validation_required"
	StateQuoteSent                WorkflowState = "quote_sent"
	StateRejected                 WorkflowState = "rejected"
	StateFailed                   WorkflowState = "failed"
)

// stateOrder fixes the forward-only progression. Terminal and branch states
// share the ordinal of their predecessor's successor so comparisons stay sane.
var stateOrder = map[WorkflowState]int{
	StateReceived:                 0,
	StateClientIdentified:         1,
	StateClientCreated:            1,
	StateProductIdentified:        2,
	StateSupplierIdentified:       3,
	StateSupplierPriced:           4,
	StateHistoricalAnalysisDone:   5,
	StatePricingCaseSelected:      6,
	StateCurrencyApplied:          7,
	StateSupplierDiscountApplied:  8,
	StateMarginApplied:            9,
	StatePricingIntelligentDone:   10,
	StateTransportOptimized:       11,
	StateJustificationBuilt:       12,
	StateCoherenceValidated:       13,
	StateQuoteGenerated:           14,
	StateManualValidationRequired: 15,
	StateQuoteSent:                16,
	StateRejected:                 16,
	StateFailed:                   16,
}

// String implements fmt.Stringer.
func (s WorkflowState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known WorkflowState.
func (s WorkflowState) IsValid() bool {
	_, ok := stateOrder[s]
	return ok
}

// IsTerminal reports whether the draft is immutable in this state.
func (s WorkflowState) IsTerminal() bool {
	switch s {
	case StateQuoteSent, StateRejected, StateFailed:
		return true
	}
	return false
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
// Backward transitions are never allowed.
func (s WorkflowState) CanAdvanceTo(next WorkflowState) bool {
	from, ok := stateOrder[s]
	if !ok {
		return false
	}
	to, ok := stateOrder[next]
	if !ok {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	return to > from
}

// ParseWorkflowState converts raw input into a WorkflowState.
func ParseWorkflowState(value string) (WorkflowState, error) {
	candidate := WorkflowState(value)
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid workflow state %q", value)
}
