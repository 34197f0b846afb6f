// Package topologystore persists a pool's last-sniffed node list so a
// process restart can reseed a NodePool without a cold sniff. It follows
// the usual pattern of persisting a node roster as JSON-in-a-column plus
// a timestamp, here keyed by cluster/pool name rather than fleet-node ID.
package topologystore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/freitascorp/gotransport/transport/node"
)

// Store is the persistence contract a Sniffing/StickySniffing pool can be
// wired to via WithTopologyStore. Save is called after every successful
// reseed that follows the wiring; Load is called once by WithTopologyStore
// to seed the pool before the first network round-trip.
type Store interface {
	Save(ctx context.Context, cluster string, nodes []*node.Node, lastUpdate time.Time) error
	Load(ctx context.Context, cluster string) ([]*node.Node, time.Time, error)
	Close() error
}

// record is the JSON-serializable form of one node, mirroring the subset
// of node.Node that survives a restart (liveness state does not: a
// reseeded node always starts alive).
type record struct {
	URI      string              `json:"uri"`
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Features map[node.Feature]bool `json:"features"`
	Settings map[string]string   `json:"settings"`
}

func toRecords(nodes []*node.Node) []record {
	out := make([]record, len(nodes))
	for i, n := range nodes {
		out[i] = record{
			URI:      n.URI.String(),
			ID:       n.ID,
			Name:     n.Name,
			Features: n.Features,
			Settings: n.Settings,
		}
	}
	return out
}

func fromRecords(recs []record) ([]*node.Node, error) {
	out := make([]*node.Node, 0, len(recs))
	for _, rec := range recs {
		u, err := url.Parse(rec.URI)
		if err != nil {
			return nil, fmt.Errorf("topologystore: stored node uri %q is invalid: %w", rec.URI, err)
		}
		n := node.New(u)
		n.ID = rec.ID
		n.Name = rec.Name
		if rec.Features != nil {
			n.Features = rec.Features
		}
		if rec.Settings != nil {
			n.Settings = rec.Settings
		}
		out = append(out, n)
	}
	return out, nil
}
