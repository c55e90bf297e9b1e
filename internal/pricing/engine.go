package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/internal/currency"
	"github.com/quoteflow-io/quoteflow-backend/internal/discount"
	"github.com/quoteflow-io/quoteflow-backend/internal/history"
	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/errors"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
	"github.com/quoteflow-io/quoteflow-backend/pkg/metrics"
)

// Engine prices one line item through the four-case decision tree.
type Engine interface {
	Price(ctx context.Context, req Request) (*Decision, error)
}

type engine struct {
	history   history.Service
	currency  currency.Service
	discounts discount.Service
	cache     Cache
	cfg       config.PricingConfig
	logg      *logger.Logger
	metrics   *metrics.QuoteMetrics
}

// NewEngine wires the pricing engine. The cache and metrics are optional, the
// three collaborator services and logger are not.
func NewEngine(
	historySvc history.Service,
	currencySvc currency.Service,
	discountSvc discount.Service,
	cache Cache,
	cfg config.PricingConfig,
	logg *logger.Logger,
	quoteMetrics *metrics.QuoteMetrics,
) (Engine, error) {
	if historySvc == nil {
		return nil, errors.New(errors.CodeInternal, "history service is required")
	}
	if currencySvc == nil {
		return nil, errors.New(errors.CodeInternal, "currency service is required")
	}
	if discountSvc == nil {
		return nil, errors.New(errors.CodeInternal, "discount service is required")
	}
	if logg == nil {
		return nil, errors.New(errors.CodeInternal, "logger is required")
	}
	return &engine{
		history:   historySvc,
		currency:  currencySvc,
		discounts: discountSvc,
		cache:     cache,
		cfg:       cfg,
		logg:      logg,
		metrics:   quoteMetrics,
	}, nil
}

func (e *engine) Price(ctx context.Context, req Request) (*Decision, error) {
	if req.ItemCode == "" {
		return nil, errors.New(errors.CodeValidation, "item code is required")
	}
	if req.CustomerCode == "" {
		return nil, errors.New(errors.CodeValidation, "customer code is required")
	}
	if req.Quantity <= 0 {
		return nil, errors.New(errors.CodeValidation, "quantity must be positive")
	}
	if !req.SupplierPrice.IsPositive() {
		return nil, errors.New(errors.CodeValidation, "supplier price must be positive")
	}
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}

	ctx = e.logg.WithItemCode(ctx, req.ItemCode)

	key := Key{ItemCode: req.ItemCode, CustomerCode: req.CustomerCode, Quantity: req.Quantity}
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, key); ok {
			e.metrics.IncCacheHit()
			return cached, nil
		}
		e.metrics.IncCacheMiss()
	}

	snap, histErr := e.lookupHistory(ctx, req)
	fx, fxErr := e.lookupRate(ctx, req)

	disc, discErr := e.lookupDiscount(ctx, req)
	var discountAlert string
	if discErr != nil {
		disc = nil
		discountAlert = "discount service unavailable, no discount applied"
		e.logg.Warn(ctx, "discount lookup failed: "+discErr.Error())
	}

	var decision *Decision
	switch {
	case histErr != nil || fxErr != nil:
		decision = e.fallback(ctx, req, fx, disc, histErr, fxErr)
	default:
		decision = decide(req, snap, fx, disc, e.cfg)
	}
	if discountAlert != "" {
		decision.Alerts = append(decision.Alerts, discountAlert)
	}

	e.metrics.IncPricingCase(string(decision.Case))
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"pricing_case": string(decision.Case),
		"unit_price":   decision.UnitPrice.StringFixed(2),
		"confidence":   decision.Confidence,
	}), "line item priced")

	// Decisions shaped by an outage are not cached, the next attempt should
	// see the dependency again.
	if e.cache != nil && histErr == nil && fxErr == nil {
		e.cache.Put(ctx, key, decision)
	}
	return decision, nil
}

// fallback prices as a never-sold product when the history or currency
// dependency is unreachable. The outcome is deterministic and always flagged
// for manual validation.
func (e *engine) fallback(ctx context.Context, req Request, fx decimal.Decimal, disc *discount.Discount, histErr, fxErr error) *Decision {
	decision := decideNewProduct(req, fx, disc, e.cfg)
	decision.Confidence = confidenceFallback
	if histErr != nil {
		decision.Alerts = append(decision.Alerts, "sales history unavailable, item priced as never sold")
		e.logg.Error(ctx, "history lookup failed, falling back to new-product pricing", histErr)
	}
	if fxErr != nil {
		decision.Alerts = append(decision.Alerts, "currency service unavailable, conversion rate 1.00 assumed")
		e.logg.Error(ctx, "currency rate lookup failed, falling back to rate 1.00", fxErr)
	}
	return decision
}

func (e *engine) lookupHistory(ctx context.Context, req Request) (*history.Snapshot, error) {
	started := time.Now()
	snap, err := e.history.Lookup(ctx, req.ItemCode, req.CustomerCode)
	e.metrics.ObserveServiceCall("history", outcome(err), time.Since(started))
	return snap, err
}

func (e *engine) lookupRate(ctx context.Context, req Request) (decimal.Decimal, error) {
	started := time.Now()
	fx, err := e.currency.Rate(ctx, req.SupplierCurrency)
	e.metrics.ObserveServiceCall("currency", outcome(err), time.Since(started))
	if err != nil {
		return decimal.NewFromInt(1), err
	}
	return fx, nil
}

func (e *engine) lookupDiscount(ctx context.Context, req Request) (*discount.Discount, error) {
	started := time.Now()
	disc, err := e.discounts.Lookup(ctx, req.SupplierCode, req.ItemCode, req.Quantity)
	e.metrics.ObserveServiceCall("discount", outcome(err), time.Since(started))
	return disc, err
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
