package pool

import (
	"hash/fnv"

	"github.com/freitascorp/gotransport/transport/node"
)

// NodeScorer assigns a node a score for StickySniffing's descending sort;
// the highest-scoring alive node becomes the sticky start of the view.
type NodeScorer func(n *node.Node) float64

// RendezvousScorer returns a NodeScorer implementing rendezvous
// (highest-random-weight) hashing of each node's URI against key: the
// same key always scores the same node highest across independent
// transport instances, without needing to agree on a ring. This follows
// the same FNV-1a consistent-hash routing used elsewhere to route an
// identifier to one of several instances, generalized from "pick one
// instance" to "rank every node" by hashing node+key pairs instead of
// just the node.
func RendezvousScorer(key string) NodeScorer {
	return func(n *node.Node) float64 {
		h := fnv.New64a()
		h.Write([]byte(n.RedactedURI()))
		h.Write([]byte{0})
		h.Write([]byte(key))
		return float64(h.Sum64())
	}
}
