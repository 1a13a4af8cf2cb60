package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Requests           prometheus.Counter
	Approvals          prometheus.Counter
	Revocations        prometheus.Counter
	AccessChecks       *prometheus.CounterVec
	CheckAccessLatency prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Requests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consent_requests_total",
			Help: "Consent grants requested",
		}),
		Approvals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consent_approvals_total",
			Help: "Consent grants approved by their owner",
		}),
		Revocations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consent_revocations_total",
			Help: "Consent grants revoked by their owner",
		}),
		AccessChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_access_checks_total",
			Help: "Access checks by outcome (granted, denied, error)",
		}, []string{"outcome"}),
		CheckAccessLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "consent_check_access_duration_seconds",
			Help:    "Latency of consent access checks",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) IncRequested() {
	if m == nil {
		return
	}
	m.Requests.Inc()
}

func (m *Metrics) IncApproved() {
	if m == nil {
		return
	}
	m.Approvals.Inc()
}

func (m *Metrics) IncRevoked() {
	if m == nil {
		return
	}
	m.Revocations.Inc()
}

func (m *Metrics) ObserveAccessCheck(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.AccessChecks.WithLabelValues(outcome).Inc()
	m.CheckAccessLatency.Observe(seconds)
}
