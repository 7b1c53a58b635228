package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricSourceFetchTotal      = "source_fetch_total"
	MetricSourceFetchDuration   = "source_fetch_duration_seconds"
	MetricNormalizationSkipped  = "normalization_skipped_total"
	MetricPipelineFallbackTotal = "pipeline_fallback_total"
	MetricResponseCacheRequests = "cache_requests_total"
)

// Metrics contains Prometheus metrics for the feed and search pipelines.
// All operations are thread-safe.
type Metrics struct {
	sourceFetchTotal     *prometheus.CounterVec
	sourceFetchDuration  *prometheus.HistogramVec
	normalizationSkipped *prometheus.CounterVec
	fallbackTotal        *prometheus.CounterVec
	cacheRequests        *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		sourceFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSourceFetchTotal,
				Help: "Total number of per-source fetches by outcome",
			},
			[]string{"endpoint", "source", "outcome"},
		),
		sourceFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricSourceFetchDuration,
				Help:    "Per-source fetch duration in seconds",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 3},
			},
			[]string{"endpoint", "source"},
		),
		normalizationSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricNormalizationSkipped,
				Help: "Total number of records skipped during normalization",
			},
			[]string{"type"},
		),
		fallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPipelineFallbackTotal,
				Help: "Total number of requests answered with the fallback payload",
			},
			[]string{"endpoint"},
		),
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricResponseCacheRequests,
				Help: "Total number of response cache lookups by outcome (hit, miss, error)",
			},
			[]string{"endpoint", "outcome"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveSourceFetch records one source fetch.
func (m *Metrics) ObserveSourceFetch(endpoint, source, outcome string, seconds float64) {
	m.sourceFetchTotal.WithLabelValues(endpoint, source, outcome).Inc()
	if outcome != OutcomeSkipped {
		m.sourceFetchDuration.WithLabelValues(endpoint, source).Observe(seconds)
	}
}

// IncNormalizationSkipped counts a record dropped by the normalizer.
func (m *Metrics) IncNormalizationSkipped(itemType string) {
	m.normalizationSkipped.WithLabelValues(itemType).Inc()
}

// IncFallback counts a request answered with the fallback payload.
func (m *Metrics) IncFallback(endpoint string) {
	m.fallbackTotal.WithLabelValues(endpoint).Inc()
}

// IncCacheRequest counts a response cache lookup.
func (m *Metrics) IncCacheRequest(endpoint, outcome string) {
	m.cacheRequests.WithLabelValues(endpoint, outcome).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sourceFetchTotal,
		m.sourceFetchDuration,
		m.normalizationSkipped,
		m.fallbackTotal,
		m.cacheRequests,
	}
}
