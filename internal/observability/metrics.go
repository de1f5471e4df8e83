package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "newsdesk"

// Metrics holds the Prometheus collectors for pipeline runs.
type Metrics struct {
	// StageDuration observes completion latency. Labels: stage, provider.
	StageDuration *prometheus.HistogramVec
	// StageErrors counts failed completion calls. Labels: stage, kind.
	StageErrors *prometheus.CounterVec
	// ValidationFailures counts stage outputs with at least one issue. Labels: stage.
	ValidationFailures *prometheus.CounterVec
	// LeakageLines counts lines removed by the leakage filter. Labels: stage.
	LeakageLines *prometheus.CounterVec
	// Generations counts finished runs. Labels: outcome (complete, failed, rejected).
	Generations *prometheus.CounterVec
	// InFlight is the number of runs currently executing.
	InFlight prometheus.Gauge
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Completion latency per pipeline stage in seconds",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 240, 480},
		}, []string{"stage", "provider"}),
		StageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stage",
			Name:      "errors_total",
			Help:      "Failed completion calls per stage",
		}, []string{"stage", "kind"}),
		ValidationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "validation",
			Name:      "failures_total",
			Help:      "Stage outputs that failed validation",
		}, []string{"stage"}),
		LeakageLines: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "filter",
			Name:      "leakage_lines_total",
			Help:      "Lines removed by the leakage filter",
		}, []string{"stage"}),
		Generations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "generations_total",
			Help:      "Finished script generations by outcome",
		}, []string{"outcome"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "generations_in_flight",
			Help:      "Script generations currently running",
		}),
	}
}
