// Package metrics exposes the presence engine counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// Operation outcomes used as the "outcome" label.
const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation"
	OutcomeNotFound   = "not_found"
	OutcomeDependency = "dependency"
)

// Metrics groups the collectors of one engine. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	roster      *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "presence",
			Name:      "operations_total",
			Help:      "Engine operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "presence",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "presence",
			Name:      "transitions_total",
			Help:      "Accepted status transitions by target status.",
		}, []string{"status"}),
		roster: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "presence",
			Name:      "people",
			Help:      "People per status as of the last aggregate query.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.operations, m.latency, m.transitions, m.roster)
	return m
}

// ObserveOperation records one finished engine operation.
func (m *Metrics) ObserveOperation(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.operations.With(prometheus.Labels{"operation": operation, "outcome": outcome}).Inc()
	m.latency.With(prometheus.Labels{"operation": operation}).Observe(took.Seconds())
}

// CountTransition records an accepted transition into status.
func (m *Metrics) CountTransition(status schema.Status) {
	if m == nil {
		return
	}
	m.transitions.With(prometheus.Labels{"status": string(status)}).Inc()
}

// SetRoster publishes the latest aggregate.
func (m *Metrics) SetRoster(c schema.Counts) {
	if m == nil {
		return
	}
	m.roster.With(prometheus.Labels{"status": string(schema.StatusInside)}).Set(float64(c.Inside))
	m.roster.With(prometheus.Labels{"status": string(schema.StatusWork)}).Set(float64(c.Work))
	m.roster.With(prometheus.Labels{"status": string(schema.StatusDayOff)}).Set(float64(c.DayOff))
	m.roster.With(prometheus.Labels{"status": string(schema.StatusRequest)}).Set(float64(c.Request))
}
