package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	CasesCreated   prometheus.Counter
	Transitions    *prometheus.CounterVec
	CoverageDenied prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		CasesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "workflow_cases_created_total",
			Help: "Workflow cases created",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Workflow case transitions by resulting status",
		}, []string{"status"}),
		CoverageDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "workflow_coverage_denied_total",
			Help: "Case creations refused because consent did not cover the required attributes",
		}),
	}
}

func (m *Metrics) IncCreated() {
	if m == nil {
		return
	}
	m.CasesCreated.Inc()
}

func (m *Metrics) IncTransition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncCoverageDenied() {
	if m == nil {
		return
	}
	m.CoverageDenied.Inc()
}
