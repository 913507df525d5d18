// Package observability wires the pipeline's Prometheus metrics and
// OpenTelemetry tracing, mirroring the teacher's gateway metrics package
// (namespaced counters/histograms registered against an injectable
// registry) and its tracer.Start/SetAttributes/RecordError span usage in
// performWebsiteAnalysis (SPEC_FULL §3).
package observability

import "github.com/prometheus/client_golang/prometheus"

const namespace = "crawlstats"

// Metrics holds every Prometheus collector the pipeline emits.
type Metrics struct {
	StageDuration   *prometheus.HistogramVec
	PatternsEmitted *prometheus.CounterVec
	RecordsDropped  *prometheus.CounterVec
}

// NewMetrics registers the pipeline's collectors against the default
// global registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers the pipeline's collectors against reg,
// so tests can use a fresh prometheus.NewRegistry() instead of polluting
// the global default. A collector that reg already holds (for example from
// an earlier call against the same registry) is reused rather than
// registered twice.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of one analyzer stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		PatternsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_emitted_total",
			Help:      "Patterns retained by a stage after its minOccurrences filter.",
		}, []string{"stage"}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Capture records discarded before or during preprocessing, by reason.",
		}, []string{"reason"}),
	}
	collectors := []prometheus.Collector{m.StageDuration, m.PatternsEmitted, m.RecordsDropped}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			collectors[i] = are.ExistingCollector
		}
	}
	m.StageDuration = collectors[0].(*prometheus.HistogramVec)
	m.PatternsEmitted = collectors[1].(*prometheus.CounterVec)
	m.RecordsDropped = collectors[2].(*prometheus.CounterVec)
	return m
}
