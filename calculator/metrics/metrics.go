package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for incentive evaluations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Evaluation outcomes by jurisdiction and outcome
	Evaluations *prometheus.CounterVec

	// Resolve + evaluate latency
	EvaluationLatency prometheus.Histogram

	// Rule lookups that did not produce a rule, by reason
	ResolutionFailures *prometheus.CounterVec
}

// New registers the evaluation metrics with reg, or the default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "incentives_evaluations_total",
			Help: "Total incentive evaluations by jurisdiction and outcome",
		}, []string{"jurisdiction", "outcome"}), // outcome: "eligible" or the gating flag, lowercased

		EvaluationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "incentives_evaluation_duration_seconds",
			Help:    "Duration of rule resolution plus evaluation",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),

		ResolutionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "incentives_rule_resolution_failures_total",
			Help: "Rule lookups that failed, by reason",
		}, []string{"reason"}), // reason: "not_found", "invalid_rule", "canceled", "backend_error"
	}
}

// IncrementEvaluation records one evaluation outcome.
func (m *Metrics) IncrementEvaluation(jurisdiction, outcome string) {
	if m != nil {
		m.Evaluations.WithLabelValues(jurisdiction, outcome).Inc()
	}
}

// ObserveEvaluationLatency records the duration of one evaluation.
func (m *Metrics) ObserveEvaluationLatency(d time.Duration) {
	if m != nil {
		m.EvaluationLatency.Observe(d.Seconds())
	}
}

// IncrementResolutionFailure records a failed rule lookup.
func (m *Metrics) IncrementResolutionFailure(reason string) {
	if m != nil {
		m.ResolutionFailures.WithLabelValues(reason).Inc()
	}
}
