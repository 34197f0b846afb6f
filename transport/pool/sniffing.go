package pool

import (
	"context"
	"math/rand"
	"time"

	"github.com/freitascorp/gotransport/transport/audit"
	"github.com/freitascorp/gotransport/transport/node"
	"github.com/freitascorp/gotransport/transport/topologystore"
)

// Sniffing extends Static with the ability to atomically replace the node
// list. Reseed is writer-locked against CreateView's reader lock via
// base.mu.
type Sniffing struct {
	*base
}

// NewSniffing creates a Sniffing pool, shuffled like Static on construction.
func NewSniffing(cfg Config, nodes []*node.Node, opts StaticOptions) (*Sniffing, error) {
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
	return &Sniffing{base: b}, nil
}

func (s *Sniffing) CreateView(auditor *audit.Auditor) []*node.Node {
	return s.createView(auditor, false, nil)
}

func (s *Sniffing) MaxRetries() int {
	n := len(s.Nodes())
	if n == 0 {
		return 0
	}
	return n - 1
}

func (s *Sniffing) SupportsPinging() bool   { return true }
func (s *Sniffing) SupportsReseeding() bool { return true }
func (s *Sniffing) Reseed(nodes []*node.Node) error {
	return s.reseed(nodes)
}

// WithTopologyStore seeds the pool from a previously-saved snapshot (if
// any) and wires every later reseed to persist back to store, so the
// next process restart can skip the cold first-use sniff.
func (s *Sniffing) WithTopologyStore(ctx context.Context, store topologystore.Store, cluster string) error {
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
