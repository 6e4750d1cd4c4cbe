package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

func TestObserveOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("transition", OutcomeOK, 5*time.Millisecond)
	m.ObserveOperation("transition", OutcomeOK, time.Millisecond)
	m.ObserveOperation("transition", OutcomeNotFound, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("transition", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("transition", OutcomeNotFound)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))
}

func TestTransitionsAndRoster(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CountTransition(schema.StatusWork)
	m.CountTransition(schema.StatusWork)
	m.SetRoster(schema.Counts{Inside: 3, Work: 2, Total: 5})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("work")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.roster.WithLabelValues("inside")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.roster.WithLabelValues("request")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("stats", OutcomeOK, time.Second)
	m.CountTransition(schema.StatusInside)
	m.SetRoster(schema.Counts{})
}
