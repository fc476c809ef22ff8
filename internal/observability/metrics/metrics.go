package metrics

import "github.com/prometheus/client_golang/prometheus"

// CoordinatorMetrics exposes counters/histograms for the care coordination pipeline.
type CoordinatorMetrics struct {
	cacheLookups    *prometheus.CounterVec
	upstreamFetches *prometheus.CounterVec
	llmLatency      *prometheus.HistogramVec
	formExtractions *prometheus.CounterVec
}

func NewCoordinatorMetrics(reg prometheus.Registerer) *CoordinatorMetrics {
	m := &CoordinatorMetrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "patient",
			Name:      "cache_lookups_total",
			Help:      "Patient record cache lookups by result",
		}, []string{"result"}),
		upstreamFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "patient",
			Name:      "upstream_fetch_total",
			Help:      "Upstream patient record fetches by outcome",
		}, []string{"status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "care",
			Subsystem: "conversation",
			Name:      "llm_latency_seconds",
			Help:      "Latency of completion provider calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"model", "status"}),
		formExtractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "conversation",
			Name:      "form_extractions_total",
			Help:      "Form update extraction attempts by winning strategy",
		}, []string{"strategy", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.cacheLookups, m.upstreamFetches, m.llmLatency, m.formExtractions)
	return m
}

// ObserveCacheLookup records a cache read; hit false means miss or expired.
func (m *CoordinatorMetrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *CoordinatorMetrics) ObserveUpstreamFetch(status string) {
	if m == nil {
		return
	}
	m.upstreamFetches.WithLabelValues(status).Inc()
}

func (m *CoordinatorMetrics) ObserveLLMLatency(model, status string, seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(model, status).Observe(seconds)
}

// ObserveFormExtraction records which strategy matched; strategy "none" when nothing did.
func (m *CoordinatorMetrics) ObserveFormExtraction(strategy string, parsed bool) {
	if m == nil {
		return
	}
	status := "parsed"
	if !parsed {
		status = "malformed"
	}
	if strategy == "" {
		strategy, status = "none", "skipped"
	}
	m.formExtractions.WithLabelValues(strategy, status).Inc()
}
