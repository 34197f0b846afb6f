package pipeline_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freitascorp/gotransport/transport/alert"
	"github.com/freitascorp/gotransport/transport/audit"
	"github.com/freitascorp/gotransport/transport/clock"
	"github.com/freitascorp/gotransport/transport/node"
	"github.com/freitascorp/gotransport/transport/pipeline"
	"github.com/freitascorp/gotransport/transport/pool"
	"github.com/freitascorp/gotransport/transport/product"
	"github.com/freitascorp/gotransport/transport/transporttest"
)

// fakePool is a deterministic, order-preserving pool.Pool double used so
// pipeline tests can pin down which node is attempted first without
// depending on Static/Sniffing's construction-time shuffle (that
// randomization is exercised directly in transport/pool's own tests).
type fakePool struct {
	mu               sync.Mutex
	nodes            []*node.Node
	maxRetries       int
	supportsReseed   bool
	sniffedOnStartup bool
	lastUpdate       time.Time
	clk              clock.Clock
}

func newFakePool(clk clock.Clock, supportsReseed bool, nodes ...*node.Node) *fakePool {
	return &fakePool{nodes: nodes, maxRetries: len(nodes) - 1, supportsReseed: supportsReseed, clk: clk, lastUpdate: clk.Now()}
}

func (p *fakePool) CreateView(auditor *audit.Auditor) []*node.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clk.Now()
	var alive []*node.Node
	for _, n := range p.nodes {
		if n.IsAlive(now) {
			alive = append(alive, n)
		}
	}
	if len(alive) == 0 {
		auditor.Emit(audit.AllNodesDead, "")
		if len(p.nodes) == 0 {
			return nil
		}
		chosen := p.nodes[0]
		chosen.MarkResurrected()
		auditor.Emit(audit.Resurrection, chosen.RedactedURI())
		return []*node.Node{chosen}
	}
	for _, n := range alive {
		if n.Recovering(now) {
			n.MarkResurrected()
			auditor.Emit(audit.Resurrection, n.RedactedURI())
		}
	}
	out := make([]*node.Node, len(alive))
	copy(out, alive)
	return out
}

func (p *fakePool) Nodes() []*node.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*node.Node, len(p.nodes))
	copy(out, p.nodes)
	return out
}
func (p *fakePool) MaxRetries() int       { return p.maxRetries }
func (p *fakePool) SupportsPinging() bool { return true }
func (p *fakePool) SupportsReseeding() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.supportsReseed
}
func (p *fakePool) UsingSSL() bool         { return false }
func (p *fakePool) MarkAlive(n *node.Node) { n.MarkAlive() }
func (p *fakePool) MarkDead(n *node.Node) {
	n.MarkDead(func(int) time.Time { return p.clk.Now().Add(time.Minute) })
}
func (p *fakePool) LastUpdate() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUpdate
}
func (p *fakePool) SniffedOnStartup() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sniffedOnStartup
}
func (p *fakePool) SetSniffedOnStartup(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sniffedOnStartup = v
}
func (p *fakePool) Reseed(nodes []*node.Node) error {
	if len(nodes) == 0 {
		return fmt.Errorf("fakepool: reseed rejected empty node list")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes = nodes
	p.lastUpdate = p.clk.Now()
	return nil
}

func mustNode(t *testing.T, uri string) *node.Node {
	t.Helper()
	nodes, err := pool.NodesFromURIs(uri)
	require.NoError(t, err)
	return nodes[0]
}

func newRunner(t *testing.T, p pool.Pool, inv *transporttest.Invoker, prod product.Registration) *pipeline.Runner {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	r := pipeline.NewRunner(p, prod, inv, cfg)
	r.Clock = clock.Real{}
	return r
}

func eventsOf(details pipeline.ApiCallDetails) []string {
	out := make([]string, len(details.AuditTrail))
	for i, e := range details.AuditTrail {
		out[i] = e.Event
	}
	return out
}

// Scenario 1: happy path, single node.
func TestHappyPathSingleNode(t *testing.T) {
	nodes, err := pool.NodesFromURIs("http://a:9200")
	require.NoError(t, err)
	p, err := pool.NewSingle(pool.Config{Clock: clock.Real{}}, nodes[0])
	require.NoError(t, err)

	inv := transporttest.NewInvoker()
	inv.Default = transporttest.Response{StatusCode: 200, ContentType: "application/json", Body: `{"ok":true}`}

	r := newRunner(t, p, inv, product.Default{})
	resp, err := r.Execute(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Details.Success)
	assert.Equal(t, 200, resp.Details.StatusCode)

	events := eventsOf(resp.Details)
	require.Len(t, events, 1)
	assert.Equal(t, "HealthyResponse", events[0])
}

// Scenario 2: failover after 502. A fakePool pins the attempt order to
// [a, b] so the test doesn't depend on Static's construction-time shuffle.
func TestFailoverAfter502(t *testing.T) {
	a := mustNode(t, "http://a:9200")
	b := mustNode(t, "http://b:9200")
	p := newFakePool(clock.Real{}, false, a, b)

	inv := transporttest.NewInvoker()
	inv.Enqueue("http://a:9200/", transporttest.Response{StatusCode: 502, ContentType: "application/json", Body: `{}`})
	inv.Enqueue("http://b:9200/", transporttest.Response{StatusCode: 200, ContentType: "application/json", Body: `{"ok":true}`})

	r := newRunner(t, p, inv, product.Default{})
	resp, err := r.Execute(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Details.Success)

	events := eventsOf(resp.Details)
	assert.Contains(t, events, "BadResponse")
	assert.Equal(t, "HealthyResponse", events[len(events)-1])

	assert.False(t, a.IsAlive(time.Now()))
	assert.Equal(t, 0, b.FailedAttempts())
}

// Scenario 3: all dead, resurrection yields exactly one attempt.
func TestAllDeadResurrects(t *testing.T) {
	nodes, err := pool.NodesFromURIs("http://a:9200", "http://b:9200")
	require.NoError(t, err)
	p, err := pool.NewStatic(pool.Config{Clock: clock.Real{}}, nodes, pool.StaticOptions{})
	require.NoError(t, err)
	for _, n := range nodes {
		p.MarkDead(n)
	}

	inv := transporttest.NewInvoker()
	inv.Default = transporttest.Response{StatusCode: 200, ContentType: "application/json", Body: `{"ok":true}`}

	r := newRunner(t, p, inv, product.Default{})
	resp, err := r.Execute(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Details.Success)
	require.Len(t, inv.Calls, 1, "exactly one attempt is made against the resurrected node")

	events := eventsOf(resp.Details)
	assert.Contains(t, events, "AllNodesDead")
	assert.Contains(t, events, "Resurrection")
}

// Scenario 4: stale-cluster sniff replaces the node set before the call.
// A Stepped clock makes "stale" deterministic instead of racing the wall
// clock against a short SniffLifespan.
func TestStaleClusterSniffReplacesNodes(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stepped := clock.NewStepped(start)

	nodes, err := pool.NodesFromURIs("http://a:9200", "http://b:9200")
	require.NoError(t, err)
	p, err := pool.NewSniffing(pool.Config{Clock: stepped}, nodes, pool.StaticOptions{})
	require.NoError(t, err)
	p.SetSniffedOnStartup(true) // skip bootstrap so the stale check is what fires

	inv := transporttest.NewInvoker()
	sniffBody := `{"nodes":{"c":{"name":"c","roles":["data"],"http":{"publish_address":"c:9200"}}}}`
	inv.Enqueue("http://a:9200/_nodes/http?flat_settings", transporttest.Response{StatusCode: 200, ContentType: "application/json", Body: sniffBody})
	inv.Enqueue("http://b:9200/_nodes/http?flat_settings", transporttest.Response{StatusCode: 200, ContentType: "application/json", Body: sniffBody})
	inv.Default = transporttest.Response{StatusCode: 200, ContentType: "application/json", Body: `{"ok":true}`}

	cfg := pipeline.DefaultConfig()
	cfg.SniffLifespan = 10 * time.Second
	r := pipeline.NewRunner(p, product.Elasticsearch{Version: "8.15.0"}, inv, cfg)
	r.Clock = stepped
	stepped.Advance(time.Minute) // now well past SniffLifespan since pool construction

	resp, err := r.Execute(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Details.Success)

	got := p.Nodes()
	require.Len(t, got, 1)
	assert.Equal(t, "http://c:9200", got[0].RedactedURI())

	events := eventsOf(resp.Details)
	assert.Contains(t, events, "SniffOnStaleCluster")
	assert.Contains(t, events, "SniffSuccess")
}

// Scenario 5: ping failure triggers a connection-failure sniff then a
// normal call on the next node. A fakePool pins the order to [a, b].
func TestPingFailureTriggersFailoverSniff(t *testing.T) {
	a := mustNode(t, "http://a:9200")
	b := mustNode(t, "http://b:9200")
	p := newFakePool(clock.Real{}, true, a, b)
	p.SetSniffedOnStartup(true) // skip bootstrap so the ping on a is what fails

	inv := transporttest.NewInvoker()
	inv.Enqueue("http://a:9200/", transporttest.Response{Err: connRefused{}})
	sniffBody := `{"nodes":{"b":{"name":"b","roles":["data"],"http":{"publish_address":"b:9200"}}}}`
	inv.Enqueue("http://a:9200/_nodes/http?flat_settings", transporttest.Response{StatusCode: 200, ContentType: "application/json", Body: sniffBody})
	inv.Enqueue("http://b:9200/", transporttest.Response{StatusCode: 200, ContentType: "application/json", Body: `{"ok":true}`})
	inv.Default = transporttest.Response{StatusCode: 200, ContentType: "application/json", Body: `{"ok":true}`}

	r := newRunner(t, p, inv, product.Elasticsearch{Version: "8.15.0"})
	resp, err := r.Execute(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err)
	require.NotNil(t, resp)

	events := eventsOf(resp.Details)
	assert.Contains(t, events, "PingFailure")
	assert.Contains(t, events, "SniffOnFail")
}

// Scenario 6: cloud ID parse feeds straight into a working pipeline call
// (also covered at the pool level in transport/pool/cloud_test.go).
func TestCloudIDEndToEnd(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	p, err := pool.NewCloud(pool.Config{}, "cluster:ZWxhc3RpYy5jbG91ZCR1dWlkMSR1dWlkMg==", pool.TargetElasticsearch)
	require.NoError(t, err)

	inv := transporttest.NewInvoker()
	inv.Default = transporttest.Response{StatusCode: 200, ContentType: "application/json", Body: `{"ok":true}`}
	r := pipeline.NewRunner(p, product.Elasticsearch{Version: "8.15.0"}, inv, cfg)
	r.Clock = clock.Real{}

	resp, err := r.Execute(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err)
	assert.True(t, resp.Details.Success)
	require.Len(t, inv.Calls, 1)
	assert.Equal(t, "https://uuid1.elastic.cloud/", inv.Calls[0].URL)
}

// Universally quantified invariant: exactly one terminal event per call.
func TestExactlyOneTerminalEventPerCall(t *testing.T) {
	nodes, err := pool.NodesFromURIs("http://a:9200")
	require.NoError(t, err)
	p, err := pool.NewSingle(pool.Config{Clock: clock.Real{}}, nodes[0])
	require.NoError(t, err)
	inv := transporttest.NewInvoker()
	inv.Default = transporttest.Response{StatusCode: 200, ContentType: "application/json", Body: `{}`}

	r := newRunner(t, p, inv, product.Default{})
	resp, err := r.Execute(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err)

	terminal := map[string]bool{
		"HealthyResponse": true, "BadResponse": true, "BadRequest": true,
		"MaxRetriesReached": true, "MaxTimeoutReached": true, "NoNodesAttempted": true,
		"CancellationRequested": true, "FailedOverAllNodes": true,
	}
	count := 0
	for _, e := range resp.Details.AuditTrail {
		if terminal[e.Event] {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCancellationSurfacesAsCancellationRequested(t *testing.T) {
	nodes, err := pool.NodesFromURIs("http://a:9200", "http://b:9200")
	require.NoError(t, err)
	p, err := pool.NewStatic(pool.Config{Clock: clock.Real{}}, nodes, pool.StaticOptions{})
	require.NoError(t, err)
	inv := transporttest.NewInvoker()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newRunner(t, p, inv, product.Default{})
	resp, err := r.Execute(ctx, http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err)
	require.NotNil(t, resp)
	events := eventsOf(resp.Details)
	require.NotEmpty(t, events)
	assert.Equal(t, "CancellationRequested", events[len(events)-1])
	assert.Empty(t, inv.Calls, "a context already cancelled before Execute must never reach the invoker")
}

func TestMaxRetriesReachedWhenEveryNodeFails(t *testing.T) {
	a := mustNode(t, "http://a:9200")
	b := mustNode(t, "http://b:9200")
	p := newFakePool(clock.Real{}, false, a, b)

	inv := transporttest.NewInvoker()
	inv.Default = transporttest.Response{StatusCode: 503, ContentType: "application/json", Body: `{}`}

	r := newRunner(t, p, inv, product.Default{})
	resp, err := r.Execute(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err) // ThrowExceptions defaults to false
	require.NotNil(t, resp)
	assert.False(t, resp.Details.Success)

	events := eventsOf(resp.Details)
	assert.Equal(t, "MaxRetriesReached", events[len(events)-1])
	assert.False(t, a.IsAlive(time.Now()))
	assert.False(t, b.IsAlive(time.Now()))
}

func TestThrowExceptionsSurfacesErrorToCaller(t *testing.T) {
	nodes, err := pool.NodesFromURIs("http://a:9200")
	require.NoError(t, err)
	p, err := pool.NewSingle(pool.Config{Clock: clock.Real{}}, nodes[0])
	require.NoError(t, err)

	inv := transporttest.NewInvoker()
	inv.Default = transporttest.Response{Err: connRefused{}} // the server is never reached

	r := newRunner(t, p, inv, product.Default{})
	throw := true
	resp, err := r.Execute(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{ThrowExceptions: &throw}, "bytes")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.Details.Success)
}

// connRefused is a trivial error implementation avoiding an import of
// "errors" just for one sentinel.
type connRefused struct{}

func (connRefused) Error() string { return "connection refused" }

type syncAlerter struct {
	mu  sync.Mutex
	got []alert.Event
	hit chan struct{}
}

func newSyncAlerter() *syncAlerter { return &syncAlerter{hit: make(chan struct{}, 8)} }

func (a *syncAlerter) Alert(ctx context.Context, ev alert.Event) error {
	a.mu.Lock()
	a.got = append(a.got, ev)
	a.mu.Unlock()
	a.hit <- struct{}{}
	return nil
}

func TestAlerterFiresWhenEveryNodeFails(t *testing.T) {
	a := mustNode(t, "http://a:9200")
	b := mustNode(t, "http://b:9200")
	p := newFakePool(clock.Real{}, false, a, b)
	p.MarkDead(a)
	p.MarkDead(b)

	inv := transporttest.NewInvoker()
	inv.Default = transporttest.Response{StatusCode: 503, ContentType: "application/json", Body: `{}`}

	r := newRunner(t, p, inv, product.Default{})
	recorder := newSyncAlerter()
	r.Alerter = recorder
	r.Cluster = "prod"

	resp, err := r.Execute(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err)
	require.NotNil(t, resp)
	events := eventsOf(resp.Details)
	assert.Contains(t, events, "AllNodesDead")

	select {
	case <-recorder.hit:
	case <-time.After(time.Second):
		t.Fatal("alerter was never invoked")
	}
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.got, 1)
	assert.Equal(t, "prod", recorder.got[0].Cluster)
	assert.Equal(t, alert.SeverityCritical, recorder.got[0].Severity)
}

func TestAlerterNotFiredOnPlainSuccess(t *testing.T) {
	nodes, err := pool.NodesFromURIs("http://a:9200")
	require.NoError(t, err)
	p, err := pool.NewSingle(pool.Config{Clock: clock.Real{}}, nodes[0])
	require.NoError(t, err)

	inv := transporttest.NewInvoker()
	inv.Default = transporttest.Response{StatusCode: 200, ContentType: "application/json", Body: `{"ok":true}`}

	r := newRunner(t, p, inv, product.Default{})
	recorder := newSyncAlerter()
	r.Alerter = recorder

	_, err = r.Execute(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err)

	select {
	case <-recorder.hit:
		t.Fatal("alerter fired on a plain successful call")
	case <-time.After(50 * time.Millisecond):
	}
}
