// Package invoker defines the pluggable RequestInvoker contract and a
// concrete net/http implementation. The pipeline never
// interprets connection pooling, TLS, proxying, auth-header attachment,
// compression, or streaming — those are entirely this package's concern.
package invoker

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Endpoint is the concrete URL for one attempt: a method bound to a path
// and a specific node.
type Endpoint struct {
	Method string
	URL    string // fully-qualified, node base URI + path-and-query
}

// CallResult is everything the pipeline needs from one invocation.
type CallResult struct {
	StatusCode    int
	Headers       http.Header
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64

	// Err is set when the invoker never reached the server at all (DNS,
	// TLS handshake, connection refused) — the BadRequest case, as
	// distinct from a response that merely carries an error status.
	Err error
}

// RequestInvoker executes a single HTTP request against one bound
// endpoint. Implementations own connection pooling, TLS, proxying, auth
// header attachment, compression, and request-body streaming.
type RequestInvoker interface {
	Call(ctx context.Context, endpoint Endpoint, cfg BoundRequest, body io.Reader) (CallResult, error)
}

// BoundRequest is the minimal per-call configuration the invoker needs;
// it is a narrowed view of the pipeline's BoundConfiguration.
type BoundRequest struct {
	Headers            http.Header
	Timeout            time.Duration
	HTTPCompression    bool
	DisableDirectStreaming bool
	Authentication     string // pre-formatted Authorization header value, if any
}
