package enums

import "fmt"

// ValidationDecision is the outcome a human records on a pending quote.
type ValidationDecision string

const (
	ValidationDecisionApprove     ValidationDecision = "approve"
	ValidationDecisionReject      ValidationDecision = "reject"
	ValidationDecisionModifyPrice ValidationDecision = "modify_price"
)

var validValidationDecisions = []ValidationDecision{
	ValidationDecisionApprove,
	ValidationDecisionReject,
	ValidationDecisionModifyPrice,
}

// String implements fmt.Stringer.
func (d ValidationDecision) String() string {
	return string(d)
}

// IsValid reports whether the value is a known ValidationDecision.
func (d ValidationDecision) IsValid() bool {
	for _, candidate := range validValidationDecisions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseValidationDecision converts raw input into a ValidationDecision.
func ParseValidationDecision(value string) (ValidationDecision, error) {
	for _, candidate := range validValidationDecisions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid validation decision %q", value)
}

// ValidationStatus is the lifecycle of a pending validation request.
type ValidationStatus string

const (
	ValidationStatusPending  ValidationStatus = "pending"
	ValidationStatusApproved ValidationStatus = "approved"
	ValidationStatusRejected ValidationStatus = "rejected"
	ValidationStatusModified ValidationStatus = "modified"
	ValidationStatusExpired  ValidationStatus = "expired"
)

var validValidationStatuses = []ValidationStatus{
	ValidationStatusPending,
	ValidationStatusApproved,
	ValidationStatusRejected,
	ValidationStatusModified,
	ValidationStatusExpired,
}

// String implements fmt.Stringer.
func (s ValidationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ValidationStatus.
func (s ValidationStatus) IsValid() bool {
	for _, candidate := range validValidationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
