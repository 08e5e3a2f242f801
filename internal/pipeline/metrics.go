package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Module outcome labels.
const (
	OutcomeAllow   = "allow"
	OutcomeDeny    = "deny"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	Evaluations        *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	ModuleOutcomes     *prometheus.CounterVec
	ModuleDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers the pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Evaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aifirewall",
				Name:      "evaluations_total",
				Help:      "Total content evaluations by final decision",
			},
			[]string{"decision"},
		),
		EvaluationDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "aifirewall",
				Name:      "evaluation_duration_seconds",
				Help:      "Time to evaluate one submission through all modules",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ModuleOutcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aifirewall",
				Name:      "module_outcomes_total",
				Help:      "Module results by module and outcome (allow, deny, timeout, error)",
			},
			[]string{"module", "outcome"},
		),
		ModuleDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aifirewall",
				Name:      "module_duration_seconds",
				Help:      "Module processing time",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"module"},
		),
	}
}

func (m *Metrics) observe(v *Verdict) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(v.Decision()).Inc()
	for i := range v.Outcomes {
		o := &v.Outcomes[i]
		m.ModuleOutcomes.WithLabelValues(o.Module, outcomeLabel(o)).Inc()
		m.ModuleDuration.WithLabelValues(o.Module).Observe(o.Duration.Seconds())
	}
}

func outcomeLabel(o *Outcome) string {
	switch o.Err.(type) {
	case *ModuleTimeoutError:
		return OutcomeTimeout
	case *ModuleInternalError:
		return OutcomeError
	}
	if o.Result.Allowed {
		return OutcomeAllow
	}
	return OutcomeDeny
}
