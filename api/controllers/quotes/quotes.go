package quotes

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quoteflow-io/quoteflow-backend/api/responses"
	"github.com/quoteflow-io/quoteflow-backend/api/validators"
	"github.com/quoteflow-io/quoteflow-backend/internal/audit"
	"github.com/quoteflow-io/quoteflow-backend/internal/justification"
	internalquotes "github.com/quoteflow-io/quoteflow-backend/internal/quotes"
	"github.com/quoteflow-io/quoteflow-backend/internal/workflow"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
	pkgerrors "github.com/quoteflow-io/quoteflow-backend/pkg/errors"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

const sourceAPI = "api"

// A line needs a catalog code or a free-text description; product
// identification resolves description-only lines against the catalog.
type submitLineRequest struct {
	ItemCode    string `json:"item_code" validate:"required_without=Description"`
	Description string `json:"description" validate:"required_without=ItemCode"`
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
	Unit        string `json:"unit"`
}

type submitQuoteRequest struct {
	ClientRef     string              `json:"client_ref" validate:"required"`
	CustomerName  string              `json:"customer_name" validate:"required"`
	CustomerEmail string              `json:"customer_email" validate:"omitempty,email"`
	Lines         []submitLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// Submit registers a new quote draft and kicks the workflow in the
// background. Replays of the same source/client_ref return the existing
// draft with a 200.
func Submit(svc internalquotes.Service, engine workflow.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "quote service unavailable"))
			return
		}

		var req submitQuoteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalquotes.SubmitQuoteInput{
			Source:        sourceAPI,
			ClientRef:     req.ClientRef,
			CustomerName:  req.CustomerName,
			CustomerEmail: req.CustomerEmail,
		}
		for _, line := range req.Lines {
			input.Lines = append(input.Lines, internalquotes.SubmitLineInput{
				ItemCode:    line.ItemCode,
				Description: line.Description,
				Quantity:    line.Quantity,
				Unit:        line.Unit,
			})
		}

		draft, created, err := svc.Submit(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if created {
			go runWorkflow(engine, logg, draft.ID)
			responses.WriteSuccessStatus(w, http.StatusCreated, toQuoteView(draft))
			return
		}

		responses.WriteSuccess(w, toQuoteView(draft))
	}
}

func runWorkflow(engine workflow.Engine, logg *logger.Logger, quoteID uuid.UUID) {
	ctx := context.Background()
	if logg != nil {
		ctx = logg.WithQuoteID(ctx, quoteID.String())
	}
	if err := engine.Run(ctx, quoteID); err != nil {
		if logg != nil {
			logg.Error(ctx, "workflow run failed", err)
		}
	}
}

// Detail returns the current draft with its line items.
func Detail(svc internalquotes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "quote service unavailable"))
			return
		}

		quoteID, err := parseQuoteID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		draft, err := svc.Get(r.Context(), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toQuoteView(draft))
	}
}

// Justification rebuilds the deterministic justification block for a quote
// from its recorded pricing decisions.
func Justification(svc internalquotes.Service, auditor audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || auditor == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "quote service unavailable"))
			return
		}

		quoteID, err := parseQuoteID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		draft, err := svc.Get(r.Context(), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		decisions, err := auditor.DecisionsForQuote(r.Context(), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pricing decisions"))
			return
		}
		if len(decisions) == 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "quote has not been priced yet"))
			return
		}

		// A validator may have adjusted unit prices after the decisions were
		// recorded. The adjustments live on the quote_sent trace, so surface
		// them next to the totals they changed.
		var overrides []string
		if draft.State == enums.StateQuoteSent {
			traces, err := auditor.TracesForQuote(r.Context(), quoteID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load decision traces"))
				return
			}
			for i := range traces {
				if traces[i].State == enums.StateQuoteSent {
					overrides = traces[i].Alerts
					break
				}
			}
		}

		view, err := justification.Build(draft, decisions, overrides)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, view)
	}
}

// Traces returns the audit trail of workflow checkpoints for a quote.
func Traces(auditor audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auditor == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit service unavailable"))
			return
		}

		quoteID, err := parseQuoteID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		traces, err := auditor.TracesForQuote(r.Context(), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load decision traces"))
			return
		}

		views := make([]traceView, 0, len(traces))
		for i := range traces {
			views = append(views, toTraceView(&traces[i]))
		}
		responses.WriteSuccess(w, views)
	}
}

// Decisions returns the per-line pricing decisions for a quote.
func Decisions(auditor audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auditor == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit service unavailable"))
			return
		}

		quoteID, err := parseQuoteID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		decisions, err := auditor.DecisionsForQuote(r.Context(), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pricing decisions"))
			return
		}

		views := make([]decisionView, 0, len(decisions))
		for i := range decisions {
			views = append(views, toDecisionView(&decisions[i]))
		}
		responses.WriteSuccess(w, views)
	}
}

func parseQuoteID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "quoteID"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "quote id required")
	}
	quoteID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quote id")
	}
	return quoteID, nil
}

type lineItemView struct {
	ItemCode        string  `json:"item_code"`
	DisplayName     string  `json:"display_name"`
	Quantity        int     `json:"quantity"`
	Unit            string  `json:"unit"`
	Status          string  `json:"status"`
	SupplierCode    *string `json:"supplier_code,omitempty"`
	ExclusionReason *string `json:"exclusion_reason,omitempty"`
}

type quoteView struct {
	ID                       string         `json:"id"`
	Source                   string         `json:"source"`
	ClientRef                string         `json:"client_ref"`
	CustomerCode             *string        `json:"customer_code,omitempty"`
	CustomerName             *string        `json:"customer_name,omitempty"`
	CustomerIsNew            bool           `json:"customer_is_new"`
	State                    string         `json:"state"`
	RequiresManualValidation bool           `json:"requires_manual_validation"`
	ValidationReasons        []string       `json:"validation_reasons,omitempty"`
	TransportCarrier         *string        `json:"transport_carrier,omitempty"`
	TransportCost            string         `json:"transport_cost"`
	ProductSubtotal          string         `json:"product_subtotal"`
	TotalHT                  string         `json:"total_ht"`
	TaxRate                  string         `json:"tax_rate"`
	TotalTTC                 string         `json:"total_ttc"`
	Currency                 string         `json:"currency"`
	FailureStep              *string        `json:"failure_step,omitempty"`
	FailureReason            *string        `json:"failure_reason,omitempty"`
	Lines                    []lineItemView `json:"lines"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
	TerminalAt               *time.Time     `json:"terminal_at,omitempty"`
}

func toQuoteView(draft *models.QuoteDraft) quoteView {
	view := quoteView{
		ID:                       draft.ID.String(),
		Source:                   draft.Source,
		ClientRef:                draft.ClientRef,
		CustomerCode:             draft.CustomerCode,
		CustomerName:             draft.CustomerName,
		CustomerIsNew:            draft.CustomerIsNew,
		State:                    draft.State.String(),
		RequiresManualValidation: draft.RequiresManualValidation,
		ValidationReasons:        append([]string(nil), draft.ValidationReasons...),
		TransportCarrier:         draft.TransportCarrier,
		TransportCost:            draft.TransportCost.StringFixed(2),
		ProductSubtotal:          draft.ProductSubtotal.StringFixed(2),
		TotalHT:                  draft.TotalHT.StringFixed(2),
		TaxRate:                  draft.TaxRate.String(),
		TotalTTC:                 draft.TotalTTC.StringFixed(2),
		Currency:                 draft.Currency,
		FailureStep:              draft.FailureStep,
		FailureReason:            draft.FailureReason,
		CreatedAt:                draft.CreatedAt,
		UpdatedAt:                draft.UpdatedAt,
		TerminalAt:               draft.TerminalAt,
	}
	for i := range draft.LineItems {
		item := &draft.LineItems[i]
		view.Lines = append(view.Lines, lineItemView{
			ItemCode:        item.ItemCode,
			DisplayName:     item.DisplayName,
			Quantity:        item.Quantity,
			Unit:            item.Unit,
			Status:          item.Status.String(),
			SupplierCode:    item.SupplierCode,
			ExclusionReason: item.ExclusionReason,
		})
	}
	return view
}

type traceView struct {
	Sequence      int       `json:"sequence"`
	State         string    `json:"state"`
	Summary       string    `json:"summary"`
	Justification string    `json:"justification,omitempty"`
	DataSources   []string  `json:"data_sources,omitempty"`
	Alerts        []string  `json:"alerts,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toTraceView(record *models.DecisionTraceRecord) traceView {
	return traceView{
		Sequence:      record.Sequence,
		State:         record.State.String(),
		Summary:       record.Summary,
		Justification: record.Justification,
		DataSources:   append([]string(nil), record.DataSources...),
		Alerts:        append([]string(nil), record.Alerts...),
		CreatedAt:     record.CreatedAt,
	}
}

type decisionView struct {
	ItemCode           string   `json:"item_code"`
	Case               string   `json:"pricing_case"`
	UnitPrice          string   `json:"unit_price"`
	NetSupplierCost    string   `json:"net_supplier_cost"`
	SupplierPrice      string   `json:"supplier_price"`
	SupplierCurrency   string   `json:"supplier_currency"`
	FxRate             string   `json:"fx_rate"`
	MarginFraction     string   `json:"margin_fraction"`
	Justification      string   `json:"justification"`
	Confidence         int      `json:"confidence"`
	Alerts             []string `json:"alerts,omitempty"`
	RequiresValidation bool     `json:"requires_validation"`
}

func toDecisionView(record *models.PricingDecisionRecord) decisionView {
	return decisionView{
		ItemCode:           record.ItemCode,
		Case:               record.Case.String(),
		UnitPrice:          record.UnitPrice.StringFixed(2),
		NetSupplierCost:    record.NetSupplierCost.StringFixed(4),
		SupplierPrice:      record.SupplierPrice.StringFixed(4),
		SupplierCurrency:   record.SupplierCurrency,
		FxRate:             record.FxRate.String(),
		MarginFraction:     record.MarginFraction.String(),
		Justification:      record.Justification,
		Confidence:         record.Confidence,
		Alerts:             append([]string(nil), record.Alerts...),
		RequiresValidation: record.RequiresValidation,
	}
}
