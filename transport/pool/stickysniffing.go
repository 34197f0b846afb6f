package pool

import (
	"context"
	"math/rand"
	"time"

	"github.com/freitascorp/gotransport/transport/audit"
	"github.com/freitascorp/gotransport/transport/node"
	"github.com/freitascorp/gotransport/transport/topologystore"
)

// StickySniffing combines Sniffing's reseed support with Sticky's
// non-rotating iteration, optionally ordered by a caller-supplied
// NodeScorer instead of list order.
type StickySniffing struct {
	*base
	scorer NodeScorer
}

// NewStickySniffing creates a StickySniffing pool. scorer may be nil, in
// which case the view starts at the first alive node in list order just
// like Sticky.
func NewStickySniffing(cfg Config, nodes []*node.Node, opts StaticOptions, scorer NodeScorer) (*StickySniffing, error) {
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewSource(rand.Int63()))
	}
	shuffled := make([]*node.Node, len(nodes))
	copy(shuffled, nodes)
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	b, err := newBase(cfg, shuffled)
	if err != nil {
		return nil, err
	}
	return &StickySniffing{base: b, scorer: scorer}, nil
}

func (s *StickySniffing) CreateView(auditor *audit.Auditor) []*node.Node {
	return s.createView(auditor, true, s.scorer)
}

func (s *StickySniffing) MaxRetries() int {
	n := len(s.Nodes())
	if n == 0 {
		return 0
	}
	return n - 1
}

func (s *StickySniffing) SupportsPinging() bool   { return true }
func (s *StickySniffing) SupportsReseeding() bool { return true }
func (s *StickySniffing) Reseed(nodes []*node.Node) error {
	return s.reseed(nodes)
}

// WithTopologyStore seeds the pool from a previously-saved snapshot (if
// any) and wires every later reseed to persist back to store.
func (s *StickySniffing) WithTopologyStore(ctx context.Context, store topologystore.Store, cluster string) error {
	nodes, _, err := store.Load(ctx, cluster)
	if err != nil {
		return err
	}
	if len(nodes) > 0 {
		if err := s.reseed(nodes); err != nil {
			return err
		}
	}
	s.SetPersistHook(func(nodes []*node.Node, lastUpdate time.Time) {
		_ = store.Save(context.Background(), cluster, nodes, lastUpdate)
	})
	return nil
}
