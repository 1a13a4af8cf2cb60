package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejected    *prometheus.CounterVec
	StoreErrors prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Rejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "govconsent_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter, by caller kind",
		}, []string{"kind"}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "govconsent_ratelimit_store_errors_total",
			Help: "Limiter store failures; requests are let through when this happens",
		}),
	}
}

func (m *Metrics) IncRejected(kind string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncStoreError() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}
