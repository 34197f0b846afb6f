package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/freitascorp/gotransport/transport/metrics"
)

func TestCounterAccumulates(t *testing.T) {
	r := metrics.NewRegistry()
	c := r.Counter("requests_total", "total requests")
	c.Inc()
	c.Add(4)
	assert.Equal(t, int64(5), c.Value())
}

func TestCounterIsReusedByName(t *testing.T) {
	r := metrics.NewRegistry()
	a := r.Counter("x", "")
	b := r.Counter("x", "")
	a.Inc()
	assert.Equal(t, int64(1), b.Value(), "the same name must return the same counter")
}

func TestGaugeSetIncDec(t *testing.T) {
	r := metrics.NewRegistry()
	g := r.Gauge("nodes_alive", "")
	g.Set(3)
	g.Inc()
	g.Dec()
	g.Dec()
	assert.Equal(t, int64(2), g.Value())
}

func TestHistogramBucketsAndSnapshot(t *testing.T) {
	r := metrics.NewRegistry()
	h := r.Histogram("latency", "", []float64{0.1, 0.5, 1})
	h.Observe(0.05)
	h.Observe(0.3)
	h.Observe(2.0)

	sum, count := h.Snapshot()
	assert.InDelta(t, 2.35, sum, 0.0001)
	assert.Equal(t, int64(3), count)
}

func TestNewTransportMetricsWiresNamedMetrics(t *testing.T) {
	m := metrics.NewTransportMetrics()
	m.RequestsTotal.Inc()
	m.FailoversTotal.Inc()
	m.FailoversTotal.Inc()

	assert.Equal(t, int64(1), m.RequestsTotal.Value())
	assert.Equal(t, int64(2), m.FailoversTotal.Value())
	assert.Equal(t, int64(0), m.RequestErrors.Value())
}
