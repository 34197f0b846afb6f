package pool

import (
	"fmt"
	"math/rand"

	"github.com/freitascorp/gotransport/transport/audit"
	"github.com/freitascorp/gotransport/transport/node"
)

// Sticky extends Static but does not rotate: CreateView always starts at
// the first alive node in list order, so a caller that keeps calling the
// pool stays on the same healthy node instead of round-robining.
type Sticky struct {
	*base
}

// NewSticky creates a Sticky pool.
func NewSticky(cfg Config, nodes []*node.Node, opts StaticOptions) (*Sticky, error) {
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
	return &Sticky{base: b}, nil
}

func (s *Sticky) CreateView(auditor *audit.Auditor) []*node.Node {
	return s.createView(auditor, true, nil)
}

func (s *Sticky) MaxRetries() int {
	n := len(s.Nodes())
	if n == 0 {
		return 0
	}
	return n - 1
}

func (s *Sticky) SupportsPinging() bool   { return true }
func (s *Sticky) SupportsReseeding() bool { return false }
func (s *Sticky) Reseed([]*node.Node) error {
	return fmt.Errorf("pool: Sticky does not support reseeding")
}
