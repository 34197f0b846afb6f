// Package audit provides the per-call, append-only event trail that makes
// the request pipeline observable: immutable, structured, exportable
// records, adapted here from a persisted fleet command log into an
// in-memory, per-pipeline-execution trail that rides along with a
// single response.
package audit

import (
	"sync"
	"time"

	"github.com/freitascorp/gotransport/transport/clock"
)

// Event is the closed set of pipeline audit events.
type Event string

const (
	SniffOnStartup       Event = "SniffOnStartup"
	SniffOnFail          Event = "SniffOnFail"
	SniffOnStaleCluster  Event = "SniffOnStaleCluster"
	SniffSuccess         Event = "SniffSuccess"
	SniffFailure         Event = "SniffFailure"
	PingSuccess          Event = "PingSuccess"
	PingFailure          Event = "PingFailure"
	Resurrection         Event = "Resurrection"
	AllNodesDead         Event = "AllNodesDead"
	BadResponse          Event = "BadResponse"
	HealthyResponse      Event = "HealthyResponse"
	MaxTimeoutReached    Event = "MaxTimeoutReached"
	MaxRetriesReached    Event = "MaxRetriesReached"
	BadRequest           Event = "BadRequest"
	NoNodesAttempted     Event = "NoNodesAttempted"
	CancellationRequested Event = "CancellationRequested"
	FailedOverAllNodes   Event = "FailedOverAllNodes"
)

// terminalEvents is the set of events that end a pipeline execution.
var terminalEvents = map[Event]bool{
	HealthyResponse:       true,
	BadResponse:           true,
	BadRequest:            true,
	MaxRetriesReached:     true,
	MaxTimeoutReached:     true,
	NoNodesAttempted:      true,
	CancellationRequested: true,
	FailedOverAllNodes:    true,
}

// IsTerminal reports whether e is one of the terminal events.
func (e Event) IsTerminal() bool { return terminalEvents[e] }

// Entry is one immutable (once Ended is set) audit record.
type Entry struct {
	Event     Event
	NodeURI   string // redacted, empty if the event has no associated node
	Started   time.Time
	Ended     time.Time
	Exception error
}

// Auditor owns the ordered event list for one pipeline execution. It is
// not safe for concurrent use by multiple pipelines — each call gets its
// own Auditor — but the append path is mutex-guarded because a single
// call's sniff/ping goroutines may race to emit.
type Auditor struct {
	clock   clock.Clock
	mu      sync.Mutex
	entries []Entry
}

// New creates an Auditor bound to clk for timestamping.
func New(clk clock.Clock) *Auditor {
	return &Auditor{clock: clk}
}

// Emit appends an instantaneous entry (Started == Ended == now).
func (a *Auditor) Emit(event Event, nodeURI string) *Entry {
	now := a.clock.Now()
	e := Entry{Event: event, NodeURI: nodeURI, Started: now, Ended: now}
	a.mu.Lock()
	a.entries = append(a.entries, e)
	idx := len(a.entries) - 1
	a.mu.Unlock()
	return &a.entries[idx]
}

// Scope starts a long-running entry whose Ended is stamped when the
// returned closer is invoked, regardless of success or failure — the
// defer-based scope.
func (a *Auditor) Scope(event Event, nodeURI string) func(exception error) {
	started := a.clock.Now()
	a.mu.Lock()
	a.entries = append(a.entries, Entry{Event: event, NodeURI: nodeURI, Started: started})
	idx := len(a.entries) - 1
	a.mu.Unlock()

	return func(exception error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.entries[idx].Ended = a.clock.Now()
		a.entries[idx].Exception = exception
	}
}

// Record appends an entry whose event is only known once the operation it
// describes has already finished: the product-call audit scope decides
// HealthyResponse vs BadResponse vs BadRequest from the outcome, not up
// front.
func (a *Auditor) Record(event Event, nodeURI string, started, ended time.Time, exception error) *Entry {
	e := Entry{Event: event, NodeURI: nodeURI, Started: started, Ended: ended, Exception: exception}
	a.mu.Lock()
	a.entries = append(a.entries, e)
	idx := len(a.entries) - 1
	a.mu.Unlock()
	return &a.entries[idx]
}

// Entries returns a snapshot copy of the trail in emission order.
func (a *Auditor) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// HasTerminal reports whether a terminal event has already been recorded.
func (a *Auditor) HasTerminal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.Event.IsTerminal() {
			return true
		}
	}
	return false
}
