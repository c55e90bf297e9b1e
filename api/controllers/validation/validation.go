package validation

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/api/middleware"
	"github.com/quoteflow-io/quoteflow-backend/api/responses"
	"github.com/quoteflow-io/quoteflow-backend/api/validators"
	internalvalidation "github.com/quoteflow-io/quoteflow-backend/internal/validation"
	"github.com/quoteflow-io/quoteflow-backend/internal/workflow"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
	pkgerrors "github.com/quoteflow-io/quoteflow-backend/pkg/errors"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

type decideRequest struct {
	Decision       string            `json:"decision" validate:"required,oneof=approve reject modify_price"`
	Reason         string            `json:"reason"`
	PriceOverrides map[string]string `json:"price_overrides"`
}

// Decide records a validator's decision on a gated quote and resumes the
// workflow with the outcome.
func Decide(validations internalvalidation.Service, engine workflow.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if validations == nil || engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "validation service unavailable"))
			return
		}

		rawQuoteID := strings.TrimSpace(chi.URLParam(r, "quoteID"))
		quoteID, err := uuid.Parse(rawQuoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quote id"))
			return
		}

		var req decideRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		decision, err := enums.ParseValidationDecision(req.Decision)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid decision"))
			return
		}

		overrides, err := parseOverrides(req.PriceOverrides)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := middleware.EmailFromContext(r.Context())
		if actor == "" {
			actor = middleware.UserIDFromContext(r.Context())
		}

		outcome, err := validations.Decide(r.Context(), internalvalidation.DecideInput{
			QuoteID:        quoteID,
			Decision:       decision,
			Actor:          actor,
			Reason:         req.Reason,
			PriceOverrides: overrides,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := engine.Resume(r.Context(), quoteID, outcome); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"quote_id": quoteID.String(),
			"decision": decision.String(),
			"status":   outcome.Request.Status.String(),
		})
	}
}

// Pending returns the open validation request for a quote, if any.
func Pending(validations internalvalidation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if validations == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "validation service unavailable"))
			return
		}

		rawQuoteID := strings.TrimSpace(chi.URLParam(r, "quoteID"))
		quoteID, err := uuid.Parse(rawQuoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quote id"))
			return
		}

		request, err := validations.PendingForQuote(r.Context(), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"id":         request.ID.String(),
			"quote_id":   request.QuoteID.String(),
			"status":     request.Status.String(),
			"created_at": request.CreatedAt,
		})
	}
}

func parseOverrides(raw map[string]string) (map[string]decimal.Decimal, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	overrides := make(map[string]decimal.Decimal, len(raw))
	for itemCode, value := range raw {
		price, err := decimal.NewFromString(value)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid override price for "+itemCode)
		}
		if !price.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "override price for "+itemCode+" must be positive")
		}
		overrides[itemCode] = price
	}
	return overrides, nil
}
