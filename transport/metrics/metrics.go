// Package metrics provides the structured counters, gauges, and
// histograms the transport exposes for production observability: the
// same counter/gauge/histogram primitives used elsewhere for agent-loop
// and fleet-exec metrics, retargeted here to pipeline and node-pool
// metrics.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Type classifies a metric.
type Type string

const (
	TypeCounter   Type = "counter"
	TypeGauge     Type = "gauge"
	TypeHistogram Type = "histogram"
)

// Descriptor names a metric for export.
type Descriptor struct {
	Name        string
	Type        Type
	Description string
}

// Registry collects and exposes transport metrics.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	desc  string
	value atomic.Int64
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	name  string
	desc  string
	value atomic.Int64
}

// Histogram tracks a value distribution over fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	name    string
	desc    string
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

// Counter returns (or creates) a counter metric.
func (r *Registry) Counter(name, description string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; ok {
		return c
	}
	c = &Counter{name: name, desc: description}
	r.counters[name] = c
	return c
}

// Gauge returns (or creates) a gauge metric.
func (r *Registry) Gauge(name, description string) *Gauge {
	r.mu.RLock()
	g, ok := r.gauges[name]
	r.mu.RUnlock()
	if ok {
		return g
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok = r.gauges[name]; ok {
		return g
	}
	g = &Gauge{name: name, desc: description}
	r.gauges[name] = g
	return g
}

// Histogram returns (or creates) a histogram metric over buckets.
func (r *Registry) Histogram(name, description string, buckets []float64) *Histogram {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.histograms[name]; ok {
		return h
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	h = &Histogram{name: name, desc: description, buckets: sorted, counts: make([]int64, len(sorted)+1)}
	r.histograms[name] = h
	return h
}

func (c *Counter) Inc()          { c.value.Add(1) }
func (c *Counter) Add(n int64)   { c.value.Add(n) }
func (c *Counter) Value() int64  { return c.value.Load() }

func (g *Gauge) Set(v int64)    { g.value.Store(v) }
func (g *Gauge) Inc()           { g.value.Add(1) }
func (g *Gauge) Dec()           { g.value.Add(-1) }
func (g *Gauge) Value() int64   { return g.value.Load() }

// Observe records a value, bucketing it.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.buckets)]++
}

// Snapshot returns the current (sum, count) for tests and exporters.
func (h *Histogram) Snapshot() (sum float64, count int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum, h.count
}

// TransportMetrics holds the named metrics the pipeline and pool update
// as they operate.
type TransportMetrics struct {
	Registry *Registry

	RequestsTotal    *Counter
	RequestErrors    *Counter
	RequestLatency   *Histogram
	NodesAlive       *Gauge
	NodesDead        *Gauge
	SniffsTotal      *Counter
	SniffFailures    *Counter
	PingsTotal       *Counter
	PingFailures     *Counter
	Resurrections    *Counter
	FailoversTotal   *Counter
}

// NewTransportMetrics builds the standard metric set used across a
// Transport's lifetime.
func NewTransportMetrics() *TransportMetrics {
	r := NewRegistry()
	buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &TransportMetrics{
		Registry:       r,
		RequestsTotal:  r.Counter("transport_requests_total", "Total requests issued"),
		RequestErrors:  r.Counter("transport_request_errors_total", "Requests that finalized with an error"),
		RequestLatency: r.Histogram("transport_request_latency_seconds", "End-to-end request latency", buckets),
		NodesAlive:     r.Gauge("transport_nodes_alive", "Nodes currently considered alive"),
		NodesDead:      r.Gauge("transport_nodes_dead", "Nodes currently dead-until in the future"),
		SniffsTotal:    r.Counter("transport_sniffs_total", "Sniff attempts performed"),
		SniffFailures:  r.Counter("transport_sniff_failures_total", "Sniff attempts that failed against every node"),
		PingsTotal:     r.Counter("transport_pings_total", "Pings performed"),
		PingFailures:   r.Counter("transport_ping_failures_total", "Pings that failed"),
		Resurrections:  r.Counter("transport_resurrections_total", "Dead nodes resurrected into a view"),
		FailoversTotal: r.Counter("transport_failovers_total", "Calls that failed over to a subsequent node"),
	}
}
