package perf

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus instruments for the pipeline, registered on a
// dedicated registry so the /metrics endpoint only exposes what the pipeline
// itself emits.
type Metrics struct {
	registry *prometheus.Registry

	StageDuration    *prometheus.HistogramVec
	RecordsProcessed *prometheus.CounterVec
	RecordsRejected  *prometheus.CounterVec
	QualityScore     *prometheus.GaugeVec
	BatchesTotal     prometheus.Counter
	AlertsTotal      *prometheus.CounterVec
	MartEntries      prometheus.Gauge
}

// NewMetrics creates the instrument set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "martpipe",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one stage invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"stage"}),
		RecordsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "martpipe",
			Name:      "records_processed_total",
			Help:      "Records entering each stage.",
		}, []string{"stage"}),
		RecordsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "martpipe",
			Name:      "records_rejected_total",
			Help:      "Records rejected or isolated per stage.",
		}, []string{"stage"}),
		QualityScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "martpipe",
			Name:      "quality_score",
			Help:      "Latest quality score per stage.",
		}, []string{"stage"}),
		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "martpipe",
			Name:      "batches_total",
			Help:      "Pipeline invocations completed.",
		}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "martpipe",
			Name:      "alerts_total",
			Help:      "Alerts delivered, by severity.",
		}, []string{"severity"}),
		MartEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "martpipe",
			Name:      "mart_entries",
			Help:      "Entries currently held in the mart.",
		}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveReport records the report-level instruments for one stage run.
func (m *Metrics) ObserveReport(stage string, recordsIn, rejected int, score float64) {
	m.RecordsProcessed.WithLabelValues(stage).Add(float64(recordsIn))
	m.RecordsRejected.WithLabelValues(stage).Add(float64(rejected))
	m.QualityScore.WithLabelValues(stage).Set(score)
}
