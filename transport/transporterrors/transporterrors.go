// Package transporterrors defines the closed set of pipeline error kinds
// and the catch-all UnexpectedError wrapper.
package transporterrors

import (
	"fmt"

	"github.com/freitascorp/gotransport/transport/audit"
)

// Kind is one of the nine closed pipeline error kinds.
type Kind int

const (
	SniffFailed Kind = iota
	PingFailed
	BadRequest
	BadResponse
	MaxRetriesReached
	MaxTimeoutReached
	NoNodesAttempted
	CancellationRequested
	FailedOverAllNodes
)

func (k Kind) String() string {
	switch k {
	case SniffFailed:
		return "SniffFailed"
	case PingFailed:
		return "PingFailed"
	case BadRequest:
		return "BadRequest"
	case BadResponse:
		return "BadResponse"
	case MaxRetriesReached:
		return "MaxRetriesReached"
	case MaxTimeoutReached:
		return "MaxTimeoutReached"
	case NoNodesAttempted:
		return "NoNodesAttempted"
	case CancellationRequested:
		return "CancellationRequested"
	case FailedOverAllNodes:
		return "FailedOverAllNodes"
	default:
		return "Unknown"
	}
}

// recoverableKinds captures the propagation policy: PingFailed,
// BadRequest, and BadResponse are caught by the outer loop and let the
// pipeline move to the next node; everything else is terminal.
var recoverableKinds = map[Kind]bool{
	PingFailed:  true,
	BadRequest:  true,
	BadResponse: true,
}

// PipelineError is a pipeline-level error carrying its Kind and whether the
// outer loop may continue past it.
type PipelineError struct {
	Kind       Kind
	Endpoint   string // the node URI in play, if any (already redacted)
	Underlying error
}

func (e *PipelineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("transport: %s (%s): %v", e.Kind, e.Endpoint, e.Underlying)
	}
	return fmt.Sprintf("transport: %s (%s)", e.Kind, e.Endpoint)
}

func (e *PipelineError) Unwrap() error { return e.Underlying }

// Recoverable reports whether the outer loop should continue to the next
// node rather than finalize immediately.
func (e *PipelineError) Recoverable() bool { return recoverableKinds[e.Kind] }

// New builds a PipelineError of the given kind.
func New(kind Kind, endpoint string, underlying error) *PipelineError {
	return &PipelineError{Kind: kind, Endpoint: endpoint, Underlying: underlying}
}

// UnexpectedError wraps any error the pipeline did not anticipate
// (serializer panics, invoker bugs, etc.), preserving the endpoint, the
// full audit trail, and the original error — never swallowed.
type UnexpectedError struct {
	Endpoint   string
	AuditTrail []audit.Entry
	Underlying error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("transport: unexpected error at %s: %v", e.Endpoint, e.Underlying)
}

func (e *UnexpectedError) Unwrap() error { return e.Underlying }

// Wrap builds an UnexpectedError, snapshotting the auditor's trail.
func Wrap(endpoint string, auditor *audit.Auditor, err error) *UnexpectedError {
	var trail []audit.Entry
	if auditor != nil {
		trail = auditor.Entries()
	}
	return &UnexpectedError{Endpoint: endpoint, AuditTrail: trail, Underlying: err}
}
