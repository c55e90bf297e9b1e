package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QuoteMetrics records workflow and pricing engine activity.
type QuoteMetrics struct {
	transitions  *prometheus.CounterVec
	pricingCases *prometheus.CounterVec
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	serviceCalls *prometheus.HistogramVec
}

// NewQuoteMetrics registers the quote metrics on the provided registerer.
func NewQuoteMetrics(reg prometheus.Registerer) *QuoteMetrics {
	if reg == nil {
		return &QuoteMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quote_workflow_transitions_total",
		Help: "Workflow state transitions by target state.",
	}, []string{"state"})
	pricingCases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quote_pricing_cases_total",
		Help: "Pricing decisions by selected case.",
	}, []string{"pricing_case"})
	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quote_pricing_cache_hits_total",
		Help: "Pricing decision cache hits.",
	})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quote_pricing_cache_misses_total",
		Help: "Pricing decision cache misses.",
	})
	serviceCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quote_external_call_duration_seconds",
		Help:    "Duration of external collaborator calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "outcome"})
	reg.MustRegister(transitions, pricingCases, cacheHits, cacheMisses, serviceCalls)
	return &QuoteMetrics{
		transitions:  transitions,
		pricingCases: pricingCases,
		cacheHits:    cacheHits,
		cacheMisses:  cacheMisses,
		serviceCalls: serviceCalls,
	}
}

// IncTransition increments the transition counter for the target state.
func (q *QuoteMetrics) IncTransition(state string) {
	if q == nil || q.transitions == nil {
		return
	}
	q.transitions.WithLabelValues(normalizeLabel(state)).Inc()
}

// IncPricingCase increments the counter for the selected pricing case.
func (q *QuoteMetrics) IncPricingCase(pricingCase string) {
	if q == nil || q.pricingCases == nil {
		return
	}
	q.pricingCases.WithLabelValues(normalizeLabel(pricingCase)).Inc()
}

// IncCacheHit increments the pricing cache hit counter.
func (q *QuoteMetrics) IncCacheHit() {
	if q == nil || q.cacheHits == nil {
		return
	}
	q.cacheHits.Inc()
}

// IncCacheMiss increments the pricing cache miss counter.
func (q *QuoteMetrics) IncCacheMiss() {
	if q == nil || q.cacheMisses == nil {
		return
	}
	q.cacheMisses.Inc()
}

// ObserveServiceCall records the duration of one external collaborator call.
func (q *QuoteMetrics) ObserveServiceCall(service, outcome string, duration time.Duration) {
	if q == nil || q.serviceCalls == nil {
		return
	}
	q.serviceCalls.WithLabelValues(normalizeLabel(service), normalizeLabel(outcome)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
