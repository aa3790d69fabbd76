package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for gate operations.
type Metrics struct {
	Scans          *prometheus.CounterVec
	EventsRecorded *prometheus.CounterVec
	Denials        *prometheus.CounterVec
	RecordLatency  prometheus.Histogram
}

// New registers and returns gate metrics collectors.
func New() *Metrics {
	return &Metrics{
		Scans: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "exeat_gate_scans_total",
			Help: "Total number of token scans, labeled by outcome",
		}, []string{"outcome"}),
		EventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "exeat_gate_events_recorded_total",
			Help: "Total number of recorded access events, labeled by action",
		}, []string{"action"}),
		Denials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "exeat_gate_denials_total",
			Help: "Total number of denied gate operations, labeled by reason",
		}, []string{"reason"}),
		RecordLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "exeat_gate_record_latency_seconds",
			Help:    "Latency of access event recording in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncScan(outcome string) {
	m.Scans.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncEventRecorded(action string) {
	m.EventsRecorded.WithLabelValues(action).Inc()
}

func (m *Metrics) IncDenial(reason string) {
	m.Denials.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRecordLatency(seconds float64) {
	m.RecordLatency.Observe(seconds)
}
