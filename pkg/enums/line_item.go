package enums

import "fmt"

// LineItemOrigin records how a requested product entered the quote.
type LineItemOrigin string

const (
	LineItemOriginCatalog   LineItemOrigin = "catalog"
	LineItemOriginRequester LineItemOrigin = "requester"
)

// IsValid reports whether the value is a known LineItemOrigin.
func (o LineItemOrigin) IsValid() bool {
	return o == LineItemOriginCatalog || o == LineItemOriginRequester
}

// LineItemStatus tracks whether pricing completed for a line.
type LineItemStatus string

const (
	LineItemStatusPending  LineItemStatus = "pending"
	LineItemStatusPriced   LineItemStatus = "priced"
	LineItemStatusExcluded LineItemStatus = "excluded"
)

var validLineItemStatuses = []LineItemStatus{
	LineItemStatusPending,
	LineItemStatusPriced,
	LineItemStatusExcluded,
}

// String implements fmt.Stringer.
func (s LineItemStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LineItemStatus.
func (s LineItemStatus) IsValid() bool {
	for _, candidate := range validLineItemStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLineItemStatus converts raw input into a LineItemStatus.
func ParseLineItemStatus(value string) (LineItemStatus, error) {
	for _, candidate := range validLineItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid line item status %q", value)
}
