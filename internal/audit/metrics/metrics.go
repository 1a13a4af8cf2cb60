package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks audit persistence and streaming health. Write failures never
// fail the audited operation, so these counters are the only signal.
type Metrics struct {
	EntriesWritten  *prometheus.CounterVec
	WriteFailures   *prometheus.CounterVec
	StreamFailures  prometheus.Counter
	DroppedEntries  prometheus.Counter
	PersistDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		EntriesWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_audit_entries_written_total",
			Help: "Audit entries persisted, by action",
		}, []string{"action"}),
		WriteFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_audit_write_failures_total",
			Help: "Audit entries that could not be persisted, by action",
		}, []string{"action"}),
		StreamFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consent_audit_stream_failures_total",
			Help: "Audit entries persisted but not streamed to Kafka",
		}),
		DroppedEntries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consent_audit_dropped_total",
			Help: "Audit entries dropped because the async buffer was full",
		}),
		PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "consent_audit_persist_duration_seconds",
			Help:    "Duration of audit store appends",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncWritten(action string) {
	if m == nil {
		return
	}
	m.EntriesWritten.WithLabelValues(action).Inc()
}

func (m *Metrics) IncWriteFailure(action string) {
	if m == nil {
		return
	}
	m.WriteFailures.WithLabelValues(action).Inc()
}

func (m *Metrics) IncStreamFailure() {
	if m == nil {
		return
	}
	m.StreamFailures.Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.DroppedEntries.Inc()
}

func (m *Metrics) ObservePersist(seconds float64) {
	if m == nil {
		return
	}
	m.PersistDuration.Observe(seconds)
}
