package pool

import (
	"fmt"

	"github.com/freitascorp/gotransport/transport/audit"
	"github.com/freitascorp/gotransport/transport/node"
)

// Single wraps exactly one node. It never pings, never reseeds, and has
// maxRetries == 0: a single call is tried and its outcome is final.
type Single struct {
	*base
}

// NewSingle creates a Single-node pool.
func NewSingle(cfg Config, n *node.Node) (*Single, error) {
	b, err := newBase(cfg, []*node.Node{n})
	if err != nil {
		return nil, err
	}
	return &Single{base: b}, nil
}

// CreateView always yields the one node, without consulting liveness —
// there is nowhere else to fail over to.
func (s *Single) CreateView(auditor *audit.Auditor) []*node.Node {
	nodes := s.Nodes()
	return nodes
}

func (s *Single) MaxRetries() int         { return 0 }
func (s *Single) SupportsPinging() bool   { return false }
func (s *Single) SupportsReseeding() bool { return false }
func (s *Single) Reseed([]*node.Node) error {
	return fmt.Errorf("pool: Single does not support reseeding")
}
