// Package pool implements the node pool and its iteration strategies.
// The strategies share the alive-subset
// + rotating-cursor algorithm in base.createView; they differ only in
// iteration order (rotate vs. sticky), optional scoring, and whether they
// support reseeding.
package pool

import (
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freitascorp/gotransport/transport/audit"
	"github.com/freitascorp/gotransport/transport/clock"
	"github.com/freitascorp/gotransport/transport/node"
)

// Pool is the interface the request pipeline consumes. Each concrete
// strategy below implements it by embedding *base.
type Pool interface {
	// CreateView returns a deterministic, pre-computed iteration order over
	// the alive subset (or a single resurrected node), emitting
	// AllNodesDead/Resurrection audits as it goes. The returned slice is a
	// snapshot: later pool mutations do not affect an in-progress call.
	CreateView(auditor *audit.Auditor) []*node.Node

	Nodes() []*node.Node
	MaxRetries() int
	SupportsPinging() bool
	SupportsReseeding() bool
	UsingSSL() bool
	MarkAlive(n *node.Node)
	MarkDead(n *node.Node)

	LastUpdate() time.Time
	SniffedOnStartup() bool
	SetSniffedOnStartup(bool)

	// Reseed atomically replaces the node list. Only strategies with
	// SupportsReseeding() true implement this meaningfully; others return
	// an error. An empty incoming list is always rejected: full
	// replacement, reject empty reseeds rather than silently keep the
	// stale list.
	Reseed(nodes []*node.Node) error
}

// Config carries the construction-time parameters shared by every
// strategy: the backoff bounds used by MarkDead, and the clock.
type Config struct {
	Clock          clock.Clock
	MinDeadTimeout time.Duration
	MaxDeadTimeout time.Duration
}

type base struct {
	cfg Config

	mu        sync.RWMutex
	nodes     []*node.Node
	lastUpdate time.Time
	persist   func(nodes []*node.Node, lastUpdate time.Time)

	cursor atomic.Int64 // globalCursor, set to -1 by newBase and reseed

	sniffedOnStartup atomic.Bool
	usingSSL         bool
}

// SetPersistHook registers fn to be invoked, best-effort, after every
// successful reseed — the attachment point for WithTopologyStore. Callers
// that need durability should make fn tolerant of its own failures: its
// return value, if any, is ignored by reseed.
func (b *base) SetPersistHook(fn func(nodes []*node.Node, lastUpdate time.Time)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.persist = fn
}

func newBase(cfg Config, nodes []*node.Node) (*base, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	ssl, err := checkScheme(nodes)
	if err != nil {
		return nil, err
	}
	b := &base{cfg: cfg, nodes: nodes, usingSSL: ssl, lastUpdate: cfg.Clock.Now()}
	b.cursor.Store(-1)
	return b, nil
}

func checkScheme(nodes []*node.Node) (bool, error) {
	if len(nodes) == 0 {
		return false, nil
	}
	scheme := nodes[0].URI.Scheme
	for _, n := range nodes[1:] {
		if n.URI.Scheme != scheme {
			return false, fmt.Errorf("pool: mixed node schemes %q and %q not supported", scheme, n.URI.Scheme)
		}
	}
	return scheme == "https", nil
}

func (b *base) Nodes() []*node.Node {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*node.Node, len(b.nodes))
	copy(out, b.nodes)
	return out
}

func (b *base) UsingSSL() bool { return b.usingSSL }

func (b *base) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

func (b *base) SniffedOnStartup() bool       { return b.sniffedOnStartup.Load() }
func (b *base) SetSniffedOnStartup(v bool)   { b.sniffedOnStartup.Store(v) }

func (b *base) MarkAlive(n *node.Node) { n.MarkAlive() }

func (b *base) MarkDead(n *node.Node) {
	n.MarkDead(func(attempts int) time.Time {
		return b.cfg.Clock.DeadTime(attempts, b.cfg.MinDeadTimeout, b.cfg.MaxDeadTimeout)
	})
}

// nextCursor atomically increments globalCursor and returns the new value.
// Concurrent createView calls therefore observe different start offsets.
func (b *base) nextCursor() int64 {
	return b.cursor.Add(1)
}

func mod(v int64, n int) int {
	m := int(v % int64(n))
	if m < 0 {
		m += n
	}
	return m
}

// createView implements the shared algorithm: select the
// alive subset, rotate (or not, for sticky strategies) starting at the
// cursor, resurrect recovering nodes as they're yielded, and fall back to
// a single forced resurrection when nothing is alive.
//
// sticky disables rotation: the view always starts at the first alive
// node in list order, so repeat callers land on the same healthy node.
// scorer, when non-nil, sorts the alive subset descending before
// rotation/sticky ordering is applied (StickySniffing's nodeScorer).
func (b *base) createView(auditor *audit.Auditor, sticky bool, scorer func(*node.Node) float64) []*node.Node {
	b.mu.RLock()
	all := make([]*node.Node, len(b.nodes))
	copy(all, b.nodes)
	b.mu.RUnlock()

	cursor := b.nextCursor()
	now := b.cfg.Clock.Now()

	var alive []*node.Node
	for _, n := range all {
		if n.IsAlive(now) {
			alive = append(alive, n)
		}
	}

	if len(alive) == 0 {
		if auditor != nil {
			auditor.Emit(audit.AllNodesDead, "")
		}
		if len(all) == 0 {
			return nil
		}
		chosen := all[mod(cursor, len(all))]
		chosen.MarkResurrected()
		if auditor != nil {
			auditor.Emit(audit.Resurrection, chosen.RedactedURI())
		}
		return []*node.Node{chosen}
	}

	if scorer != nil {
		sort.SliceStable(alive, func(i, j int) bool { return scorer(alive[i]) > scorer(alive[j]) })
	}

	view := make([]*node.Node, len(alive))
	if sticky {
		copy(view, alive)
	} else {
		start := mod(cursor, len(alive))
		for i := range alive {
			view[i] = alive[(start+i)%len(alive)]
		}
	}

	for _, n := range view {
		if n.Recovering(now) {
			n.MarkResurrected()
			if auditor != nil {
				auditor.Emit(audit.Resurrection, n.RedactedURI())
			}
		}
	}
	return view
}

// reseed replaces the node list atomically and resets globalCursor to
// -1. An empty incoming list is rejected outright.
func (b *base) reseed(nodes []*node.Node) error {
	if len(nodes) == 0 {
		return fmt.Errorf("pool: reseed rejected empty node list")
	}
	ssl, err := checkScheme(nodes)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.nodes = nodes
	b.usingSSL = ssl
	b.lastUpdate = b.cfg.Clock.Now()
	b.cursor.Store(-1)
	persist, snapshot, stamp := b.persist, append([]*node.Node(nil), nodes...), b.lastUpdate
	b.mu.Unlock()

	if persist != nil {
		persist(snapshot, stamp)
	}
	return nil
}

// NodesFromURIs is a small helper for building a node list from raw URIs,
// used by tests and by the Transport constructor.
func NodesFromURIs(uris ...string) ([]*node.Node, error) {
	out := make([]*node.Node, 0, len(uris))
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("pool: invalid node uri %q: %w", raw, err)
		}
		out = append(out, node.New(u))
	}
	return out, nil
}
