package feedcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricCacheHitsTotal          = "feed_cache_hits_total"
	MetricCacheMissesTotal        = "feed_cache_misses_total"
	MetricCacheEvictionsTotal     = "feed_cache_evictions_total"
	MetricCacheInvalidationsTotal = "feed_cache_invalidations_total"
	MetricCacheBackendErrorsTotal = "feed_cache_backend_errors_total"
)

// Tier labels for hit metrics.
const (
	TierLocal  = "local"
	TierShared = "shared"
)

// Invalidation source labels.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Metrics contains Prometheus metrics for feed cache operations.
// All operations are thread-safe.
type Metrics struct {
	hits          *prometheus.CounterVec
	misses        prometheus.Counter
	evictions     prometheus.Counter
	invalidations *prometheus.CounterVec
	backendErrors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		hits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheHitsTotal,
				Help: "Total number of feed cache hits by tier",
			},
			[]string{"tier"},
		),
		misses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricCacheMissesTotal,
				Help: "Total number of feed cache misses requiring a compute",
			},
		),
		evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricCacheEvictionsTotal,
				Help: "Total number of local tier entries evicted for capacity",
			},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheInvalidationsTotal,
				Help: "Total number of cache invalidations by source",
			},
			[]string{"source"},
		),
		backendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheBackendErrorsTotal,
				Help: "Total number of cache backend errors degraded to compute mode, by operation",
			},
			[]string{"op"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.hits,
		m.misses,
		m.evictions,
		m.invalidations,
		m.backendErrors,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncHit increments the hit counter for a tier.
func (m *Metrics) IncHit(tier string) {
	m.hits.WithLabelValues(tier).Inc()
}

// IncMiss increments the miss counter.
func (m *Metrics) IncMiss() {
	m.misses.Inc()
}

// AddEvictions adds to the eviction counter.
func (m *Metrics) AddEvictions(n int) {
	m.evictions.Add(float64(n))
}

// IncInvalidation increments the invalidation counter for a source.
func (m *Metrics) IncInvalidation(source string) {
	m.invalidations.WithLabelValues(source).Inc()
}

// IncBackendError increments the backend error counter for an operation.
func (m *Metrics) IncBackendError(op string) {
	m.backendErrors.WithLabelValues(op).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.hits,
		m.misses,
		m.evictions,
		m.invalidations,
		m.backendErrors,
	}
}
