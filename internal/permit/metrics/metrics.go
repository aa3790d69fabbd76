package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for permit lifecycle operations.
type Metrics struct {
	PermitsCreated    prometheus.Counter
	Decisions         *prometheus.CounterVec
	TransitionRaces   prometheus.Counter
	SweepPermitsFound prometheus.Counter
	SweepExpired      prometheus.Counter
	SweepSkipped      prometheus.Counter
	DecisionLatency   prometheus.Histogram
}

// New registers and returns permit metrics collectors.
func New() *Metrics {
	return &Metrics{
		PermitsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "exeat_permits_created_total",
			Help: "Total number of permits created",
		}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "exeat_permit_decisions_total",
			Help: "Total number of recorded decisions, labeled by role and decision",
		}, []string{"role", "decision"}),
		TransitionRaces: promauto.NewCounter(prometheus.CounterOpts{
			Name: "exeat_permit_transition_races_total",
			Help: "Total number of transitions lost to the optimistic state check",
		}),
		SweepPermitsFound: promauto.NewCounter(prometheus.CounterOpts{
			Name: "exeat_sweep_permits_found_total",
			Help: "Total number of stale pending permits found by the expiry sweep",
		}),
		SweepExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "exeat_sweep_permits_expired_total",
			Help: "Total number of permits auto-rejected by the expiry sweep",
		}),
		SweepSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "exeat_sweep_permits_skipped_total",
			Help: "Total number of sweep candidates skipped because they were decided concurrently",
		}),
		DecisionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "exeat_permit_decision_latency_seconds",
			Help:    "Latency of permit decision operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncPermitsCreated() {
	m.PermitsCreated.Inc()
}

func (m *Metrics) IncDecision(role, decision string) {
	m.Decisions.WithLabelValues(role, decision).Inc()
}

func (m *Metrics) IncTransitionRace() {
	m.TransitionRaces.Inc()
}

func (m *Metrics) ObserveSweep(found, expired, skipped int) {
	m.SweepPermitsFound.Add(float64(found))
	m.SweepExpired.Add(float64(expired))
	m.SweepSkipped.Add(float64(skipped))
}

func (m *Metrics) ObserveDecisionLatency(seconds float64) {
	m.DecisionLatency.Observe(seconds)
}
