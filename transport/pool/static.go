package pool

import (
	"fmt"
	"math/rand"

	"github.com/freitascorp/gotransport/transport/audit"
	"github.com/freitascorp/gotransport/transport/node"
)

// Static holds a fixed node list in randomized order (so that independent
// transport instances spread their initial load across nodes) and
// supports ping but not reseeding. maxRetries == N-1.
type Static struct {
	*base
}

// StaticOptions configures Static (and the strategies that extend it).
type StaticOptions struct {
	// Rand seeds the initial shuffle. Tests pass a seeded *rand.Rand for
	// determinism; if nil, a fresh source seeded from math/rand's global
	// generator is used.
	Rand *rand.Rand
}

// NewStatic creates a Static pool from an already-constructed node list.
// The pool holds a copy of the list shuffled with opts.Rand (or a fresh
// source); the caller's slice is left unchanged.
func NewStatic(cfg Config, nodes []*node.Node, opts StaticOptions) (*Static, error) {
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
	return &Static{base: b}, nil
}

func (s *Static) CreateView(auditor *audit.Auditor) []*node.Node {
	return s.createView(auditor, false, nil)
}

func (s *Static) MaxRetries() int {
	n := len(s.Nodes())
	if n == 0 {
		return 0
	}
	return n - 1
}

func (s *Static) SupportsPinging() bool   { return true }
func (s *Static) SupportsReseeding() bool { return false }
func (s *Static) Reseed([]*node.Node) error {
	return fmt.Errorf("pool: Static does not support reseeding")
}
