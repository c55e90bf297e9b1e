package enums

import "fmt"

// PricingCase identifies which of the four deterministic pricing strategies
// the decision engine selected for a line item.
type PricingCase string

const (
	// PricingCaseClientStable reuses the price charged at the last sale to the
	// same customer because the supplier price has not moved beyond the
	// stability threshold.
	PricingCaseClientStable PricingCase = "case1_client_history_stable"
	// PricingCaseClientRepriced recomputes the price from the current supplier
	// cost because it drifted beyond the stability threshold.
	PricingCaseClientRepriced PricingCase = "case2_client_history_repriced"
	// PricingCaseMarketReference prices from the quantity-weighted average of
	// sales to other customers.
	PricingCaseMarketReference PricingCase = "case3_other_customers"
	// PricingCaseNewProduct prices a never-sold item from supplier cost plus
	// margin; always requires human validation.
	PricingCaseNewProduct PricingCase = "case4_new_product"
)

var validPricingCases = []PricingCase{
	PricingCaseClientStable,
	PricingCaseClientRepriced,
	PricingCaseMarketReference,
	PricingCaseNewProduct,
}

// String implements fmt.Stringer.
func (c PricingCase) String() string {
	return string(c)
}

// IsValid reports whether the value is a known PricingCase.
func (c PricingCase) IsValid() bool {
	for _, candidate := range validPricingCases {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParsePricingCase converts raw input into a PricingCase.
func ParsePricingCase(value string) (PricingCase, error) {
	for _, candidate := range validPricingCases {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pricing case %q", value)
}
