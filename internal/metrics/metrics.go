// Package metrics exposes the Prometheus instruments of the pairing, list and
// search paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ListCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duowatch_list_cache_hits_total",
			Help: "List fetches served from cache",
		},
		[]string{"kind"},
	)

	ListCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duowatch_list_cache_misses_total",
			Help: "List fetches that read the store",
		},
		[]string{"kind"},
	)

	ListCacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duowatch_list_cache_invalidations_total",
			Help: "Explicit list cache invalidations",
		},
		[]string{"kind"},
	)

	// ListLoadsDiscarded counts loads that finished after their key was
	// invalidated and were not cached.
	ListLoadsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duowatch_list_loads_discarded_total",
			Help: "Store loads dropped because the cache key was invalidated mid-flight",
		},
		[]string{"kind"},
	)

	PairingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duowatch_pairing_outcomes_total",
			Help: "Connect/disconnect results by outcome",
		},
		[]string{"op", "outcome"},
	)

	CodeAllocationAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duowatch_code_allocation_attempts",
			Help:    "Candidates generated per successful partner code allocation",
			Buckets: []float64{1, 2, 3, 5, 8, 16},
		},
	)

	CodeAllocationExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duowatch_code_allocation_exhausted_total",
			Help: "Partner code allocations that ran out of attempts",
		},
	)

	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duowatch_provider_requests_total",
			Help: "Search provider requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	ProviderBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duowatch_provider_breaker_state",
			Help: "Search provider circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)
)

// Outcome reduces an error to a low-cardinality label.
func Outcome(err error, classify func(error) string) string {
	if err == nil {
		return "success"
	}
	if classify != nil {
		if s := classify(err); s != "" {
			return s
		}
	}
	return "error"
}
