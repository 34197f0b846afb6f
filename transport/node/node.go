// Package node models a single backend endpoint and its liveness state.
package node

import (
	"net/url"
	"sync"
	"time"
)

// Feature is a capability tag attached to a node (e.g. master-eligible).
type Feature string

const (
	FeatureMasterEligible Feature = "master_eligible"
	FeatureHoldsData      Feature = "holds_data"
	FeatureHTTPEnabled    Feature = "http_enabled"
	FeatureIngest         Feature = "ingest"
)

// Node is an addressable backend endpoint with mutable liveness fields.
// All fields other than the identity ones are guarded by mu; callers must
// use the accessor methods rather than touching fields directly.
type Node struct {
	URI      *url.URL
	ID       string
	Name     string
	Features map[Feature]bool
	Settings map[string]string

	mu             sync.Mutex
	failedAttempts int
	deadUntil      time.Time // zero value means "not dead"
	isResurrected  bool
}

// New creates a Node from a URI. ID and Name default to empty; callers
// populate them when the node came from a sniff response.
func New(uri *url.URL) *Node {
	return &Node{
		URI:      uri,
		Features: make(map[Feature]bool),
		Settings: make(map[string]string),
	}
}

// HasFeature reports whether the node advertises the given feature.
func (n *Node) HasFeature(f Feature) bool {
	return n.Features[f]
}

// IsAlive reports whether deadUntil has passed (or was never set), as of now.
func (n *Node) IsAlive(now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isAliveLocked(now)
}

func (n *Node) isAliveLocked(now time.Time) bool {
	return n.deadUntil.IsZero() || !n.deadUntil.After(now)
}

// FailedAttempts returns the current failure counter.
func (n *Node) FailedAttempts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failedAttempts
}

// DeadUntil returns the timestamp before which the node is considered dead,
// and whether one is set at all.
func (n *Node) DeadUntil() (time.Time, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deadUntil, !n.deadUntil.IsZero()
}

// IsResurrected reports whether the node was last yielded as a resurrection.
func (n *Node) IsResurrected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isResurrected
}

// MarkAlive resets the node to full health: failedAttempts = 0, deadUntil
// cleared, isResurrected cleared.
func (n *Node) MarkAlive() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failedAttempts = 0
	n.deadUntil = time.Time{}
	n.isResurrected = false
}

// MarkDead increments failedAttempts and sets deadUntil using the given
// backoff function. Backoff is typically
// clock.Clock.DeadTime bound to the caller's configured min/max timeouts.
func (n *Node) MarkDead(deadTime func(failedAttempts int) time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failedAttempts++
	n.deadUntil = deadTime(n.failedAttempts)
}

// Recovering reports whether the node is in the alive subset only because
// a previously-set deadUntil has now passed, as opposed to never having
// failed. Used by the pool to decide whether yielding this node counts as
// a resurrection.
func (n *Node) Recovering(now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.deadUntil.IsZero() && !n.deadUntil.After(now)
}

// MarkResurrected flags the node as having been yielded as a last resort.
// Resurrection does not reset failedAttempts — only MarkAlive does.
func (n *Node) MarkResurrected() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isResurrected = true
}

// RedactedURI returns the node's URI with any userinfo component replaced
// by "redacted", for inclusion in audit trails.
func (n *Node) RedactedURI() string {
	if n.URI == nil {
		return ""
	}
	u := *n.URI
	if u.User != nil {
		u.User = url.UserPassword("redacted", "redacted")
	}
	return u.String()
}
