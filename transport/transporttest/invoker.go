// Package transporttest provides an in-memory RequestInvoker test double
// so the pipeline, pool, and transport packages can be exercised without
// a real network: a hand-rolled fake alongside testify assertions rather
// than a mocking framework.
package transporttest

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/freitascorp/gotransport/transport/invoker"
)

// Response is a canned reply for one URL. Replies are keyed by URL only,
// so calls with different methods to the same URL share one queue.
type Response struct {
	StatusCode  int
	ContentType string
	Body        string
	Err         error // when set, the invoker "never reached the server"
}

// Invoker is a scripted RequestInvoker: each call consumes the next
// queued Response for its URL, or falls back to Default if the queue is
// empty.
type Invoker struct {
	mu      sync.Mutex
	queued  map[string][]Response
	Default Response
	Calls   []CallRecord
}

// CallRecord captures one observed call for assertions.
type CallRecord struct {
	Method  string
	URL     string
	Body    string
	Headers http.Header
}

// NewInvoker returns an empty scripted invoker defaulting to 200 OK.
func NewInvoker() *Invoker {
	return &Invoker{
		queued:  make(map[string][]Response),
		Default: Response{StatusCode: http.StatusOK, ContentType: "application/json", Body: `{"ok":true}`},
	}
}

// Enqueue pushes a scripted response for a specific URL, consumed in FIFO
// order on successive calls to that URL.
func (i *Invoker) Enqueue(url string, resp Response) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.queued[url] = append(i.queued[url], resp)
}

// Call implements invoker.RequestInvoker.
func (i *Invoker) Call(ctx context.Context, endpoint invoker.Endpoint, cfg invoker.BoundRequest, body io.Reader) (invoker.CallResult, error) {
	var bodyStr string
	if body != nil {
		b, _ := io.ReadAll(body)
		bodyStr = string(b)
	}

	i.mu.Lock()
	i.Calls = append(i.Calls, CallRecord{Method: endpoint.Method, URL: endpoint.URL, Body: bodyStr, Headers: cfg.Headers})
	resp := i.Default
	if queue := i.queued[endpoint.URL]; len(queue) > 0 {
		resp = queue[0]
		i.queued[endpoint.URL] = queue[1:]
	}
	i.mu.Unlock()

	if resp.Err != nil {
		return invoker.CallResult{Err: resp.Err}, nil
	}

	h := http.Header{}
	h.Set("Content-Type", resp.ContentType)
	return invoker.CallResult{
		StatusCode:    resp.StatusCode,
		Headers:       h,
		Body:          io.NopCloser(strings.NewReader(resp.Body)),
		ContentType:   resp.ContentType,
		ContentLength: int64(len(resp.Body)),
	}, nil
}
