// Package pipeline implements the request pipeline state machine:
// first-use bootstrap, stale-cluster sniff, connection-failure sniff,
// ping, call, failover, retry budget, and finalization. It is the
// orchestrator that every other transport package feeds into.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/freitascorp/gotransport/transport/alert"
	"github.com/freitascorp/gotransport/transport/audit"
	"github.com/freitascorp/gotransport/transport/clock"
	"github.com/freitascorp/gotransport/transport/invoker"
	"github.com/freitascorp/gotransport/transport/metrics"
	"github.com/freitascorp/gotransport/transport/node"
	"github.com/freitascorp/gotransport/transport/pool"
	"github.com/freitascorp/gotransport/transport/product"
	"github.com/freitascorp/gotransport/transport/response"
	"github.com/freitascorp/gotransport/transport/transporterrors"
)

// Response is the pipeline's output: a built body plus the debug
// envelope, produced in every case, success or failure.
type Response struct {
	Body    any
	Details ApiCallDetails
}

// sniffWaiter is the in-flight marker used to coalesce concurrent sniffs
// into a single network round-trip (a trySniff-style lock).
type sniffWaiter struct {
	done chan struct{}
	err  error
}

// Runner binds one NodePool, one ProductRegistration, and one
// RequestInvoker together and executes calls against them. It owns the
// process-wide (per-pool) first-use semaphore and sniff single-flight
// lock.
type Runner struct {
	Pool     pool.Pool
	Product  product.Registration
	Invoker  invoker.RequestInvoker
	Config   Config
	Builders *response.Registry
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.TransportMetrics

	// Alerter, if set, is notified when a call terminates with every node
	// in the pool dead or failed-over. Cluster names the pool in alerts.
	Alerter alert.Alerter
	Cluster string

	bootstrapOnce sync.Once
	bootstrapErr  error

	sniffMu   sync.Mutex
	sniffing  *sniffWaiter
}

// NewRunner constructs a Runner. Builders defaults to a fresh
// response.NewRegistry() and Clock to clock.Real{} when nil.
func NewRunner(p pool.Pool, prod product.Registration, inv invoker.RequestInvoker, cfg Config) *Runner {
	return &Runner{
		Pool:     p,
		Product:  prod,
		Invoker:  inv,
		Config:   cfg,
		Builders: response.NewRegistry(),
		Clock:    clock.Real{},
		Logger:   slog.Default(),
	}
}

// Execute runs one call end-to-end. builderName selects the response
// builder from r.Builders.
func (r *Runner) Execute(ctx context.Context, method, path string, body io.Reader, reqCfg RequestConfig, builderName string) (*Response, error) {
	auditor := audit.New(r.Clock)
	bound := r.bind(reqCfg)
	start := r.Clock.Now()
	if r.Metrics != nil {
		r.Metrics.RequestsTotal.Inc()
		defer func() {
			r.Metrics.RequestLatency.Observe(r.Clock.Now().Sub(start).Seconds())
		}()
	}

	if ctx != nil {
		select {
		case <-ctx.Done():
			auditor.Emit(audit.CancellationRequested, "")
			return r.finalize(auditor, bound, nil, transporterrors.New(transporterrors.CancellationRequested, "", ctx.Err()), builderName)
		default:
		}
	} else {
		ctx = context.Background()
	}

	if err := r.bootstrap(ctx, auditor, bound); err != nil {
		return r.finalize(auditor, bound, nil, err, builderName)
	}

	nodes := r.Pool.Nodes()
	if len(nodes) == 1 {
		return r.executeSingleNode(ctx, auditor, bound, nodes[0], method, path, body, builderName)
	}
	return r.executeLoop(ctx, auditor, bound, method, path, body, builderName)
}

// bootstrap runs the first-use sniff at most once per Runner (one
// Runner is the process-wide scope here, since a
// Runner binds one pool): on success it marks the pool sniffed; on
// failure it returns the pipeline error but still releases the gate so
// later calls fall through to the stale-cluster check instead of
// retrying the bootstrap forever.
func (r *Runner) bootstrap(ctx context.Context, auditor *audit.Auditor, bound BoundConfiguration) error {
	if !r.Pool.SupportsReseeding() || r.Pool.SniffedOnStartup() || bound.DisableSniffOnStartup {
		return nil
	}
	var err error
	r.bootstrapOnce.Do(func() {
		view := r.Pool.CreateView(auditor)
		auditor.Emit(audit.SniffOnStartup, "")
		if err = r.doSniff(ctx, auditor, bound, view); err != nil {
			r.bootstrapErr = err
			return
		}
		r.Pool.SetSniffedOnStartup(true)
	})
	return err
}

// executeSingleNode implements the "pool has exactly one node" fast
// path: one attempt, no sniff, no ping, no failover.
func (r *Runner) executeSingleNode(ctx context.Context, auditor *audit.Auditor, bound BoundConfiguration, n *node.Node, method, path string, body io.Reader, builderName string) (*Response, error) {
	endpoint := bindEndpoint(n, method, path)
	result, callErr := r.call(ctx, auditor, endpoint, bound, body)
	if callErr != nil {
		r.Pool.MarkDead(n)
		return r.finalize(auditor, bound, &attemptRecord{node: n, result: result}, callErr, builderName)
	}
	if r.successOrKnownError(method, result) {
		r.Pool.MarkAlive(n)
		return r.buildSuccess(auditor, bound, n, result, builderName)
	}
	r.Pool.MarkDead(n)
	err := transporterrors.New(transporterrors.FailedOverAllNodes, n.RedactedURI(), fmt.Errorf("status %d from %s", result.StatusCode, n.RedactedURI()))
	return r.finalize(auditor, bound, &attemptRecord{node: n, result: result}, err, builderName)
}

// attemptRecord carries the last attempt's node/result into finalize so
// the debug envelope can report it even on failure.
type attemptRecord struct {
	node   *node.Node
	result invoker.CallResult
}

// executeLoop implements the multi-node retry-and-failover branch.
func (r *Runner) executeLoop(ctx context.Context, auditor *audit.Auditor, bound BoundConfiguration, method, path string, body io.Reader, builderName string) (*Response, error) {
	view := r.Pool.CreateView(auditor)
	if len(view) == 0 {
		auditor.Emit(audit.NoNodesAttempted, "")
		return r.finalize(auditor, bound, nil, transporterrors.New(transporterrors.NoNodesAttempted, "", nil), builderName)
	}

	started := r.Clock.Now()
	maxRetries := effectiveMaxRetries(bound, r.Pool.MaxRetries())
	var seen []error
	var last *attemptRecord

	for attempts, n := range view {
		select {
		case <-ctx.Done():
			auditor.Emit(audit.CancellationRequested, "")
			return r.finalize(auditor, bound, last, transporterrors.New(transporterrors.CancellationRequested, n.RedactedURI(), ctx.Err()), builderName)
		default:
		}

		if r.Pool.SupportsReseeding() && r.Config.SniffLifespan > 0 && r.Clock.Now().Sub(r.Pool.LastUpdate()) > r.Config.SniffLifespan {
			auditor.Emit(audit.SniffOnStaleCluster, "")
			if err := r.doSniff(ctx, auditor, bound, view); err != nil {
				seen = append(seen, err)
				return r.finalize(auditor, bound, last, err, builderName)
			}
		}

		if r.Product.SupportsPing() && !bound.DisablePings {
			if err := r.ping(ctx, auditor, bound, n); err != nil {
				seen = append(seen, err)
				if r.Config.SniffOnConnectionFault && r.Pool.SupportsReseeding() {
					auditor.Emit(audit.SniffOnFail, "")
					_ = r.doSniff(ctx, auditor, bound, view)
				}
				continue
			}
		}

		endpoint := bindEndpoint(n, method, path)
		result, callErr := r.call(ctx, auditor, endpoint, bound, body)
		last = &attemptRecord{node: n, result: result}

		if callErr == nil && r.successOrKnownError(method, result) {
			r.Pool.MarkAlive(n)
			return r.buildSuccess(auditor, bound, n, result, builderName)
		}

		r.Pool.MarkDead(n)
		if r.Metrics != nil {
			r.Metrics.FailoversTotal.Inc()
		}
		if callErr == nil {
			callErr = transporterrors.New(transporterrors.BadResponse, n.RedactedURI(), fmt.Errorf("status %d", result.StatusCode))
		}
		seen = append(seen, callErr)

		if r.Config.SniffOnConnectionFault && r.Pool.SupportsReseeding() {
			auditor.Emit(audit.SniffOnFail, "")
			_ = r.doSniff(ctx, auditor, bound, view)
		}

		if bound.MaxRetryTimeout > 0 && r.Clock.Now().Sub(started) > bound.MaxRetryTimeout {
			auditor.Emit(audit.MaxTimeoutReached, "")
			return r.finalize(auditor, bound, last, transporterrors.New(transporterrors.MaxTimeoutReached, n.RedactedURI(), aggregate(seen)), builderName)
		}
		if attempts >= maxRetries {
			auditor.Emit(audit.MaxRetriesReached, "")
			return r.finalize(auditor, bound, last, transporterrors.New(transporterrors.MaxRetriesReached, n.RedactedURI(), aggregate(seen)), builderName)
		}
	}

	auditor.Emit(audit.FailedOverAllNodes, "")
	return r.finalize(auditor, bound, last, transporterrors.New(transporterrors.FailedOverAllNodes, "", aggregate(seen)), builderName)
}

func aggregate(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

// ping issues a lightweight liveness probe against one node.
func (r *Runner) ping(ctx context.Context, auditor *audit.Auditor, bound BoundConfiguration, n *node.Node) error {
	timeout := r.Config.PingTimeout
	if bound.Timeout > 0 && bound.Timeout < timeout {
		timeout = bound.Timeout
	}
	endpoint := invoker.Endpoint{Method: r.Product.PingMethod(), URL: joinURL(n, r.Product.PingPath())}
	req := invoker.BoundRequest{
		Headers:        bound.Headers,
		Timeout:        timeout,
		Authentication: bound.Authentication,
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if r.Metrics != nil {
		r.Metrics.PingsTotal.Inc()
	}
	result, err := r.Invoker.Call(pctx, endpoint, req, nil)
	if result.Body != nil {
		result.Body.Close()
	}
	if err != nil || result.Err != nil || !r.successOrKnownError(endpoint.Method, result) {
		auditor.Emit(audit.PingFailure, n.RedactedURI())
		if r.Metrics != nil {
			r.Metrics.PingFailures.Inc()
		}
		cause := err
		if cause == nil {
			cause = result.Err
		}
		return transporterrors.New(transporterrors.PingFailed, n.RedactedURI(), cause)
	}
	auditor.Emit(audit.PingSuccess, n.RedactedURI())
	return nil
}

// call delegates to the invoker inside an audit
// scope whose event is decided by the outcome.
func (r *Runner) call(ctx context.Context, auditor *audit.Auditor, endpoint invoker.Endpoint, bound BoundConfiguration, body io.Reader) (invoker.CallResult, error) {
	started := r.Clock.Now()
	cctx := ctx
	var cancel context.CancelFunc
	if bound.Timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, bound.Timeout)
		defer cancel()
	}

	req := invoker.BoundRequest{
		Headers:                bound.Headers,
		Timeout:                bound.Timeout,
		HTTPCompression:        bound.HTTPCompression,
		DisableDirectStreaming: bound.DisableDirectStreaming,
		Authentication:         bound.Authentication,
	}
	result, err := r.Invoker.Call(cctx, endpoint, req, body)
	ended := r.Clock.Now()

	nodeURI := redactURL(endpoint.URL)
	switch {
	case err != nil:
		auditor.Record(audit.BadRequest, nodeURI, started, ended, err)
		return result, transporterrors.New(transporterrors.BadRequest, nodeURI, err)
	case result.Err != nil:
		auditor.Record(audit.BadRequest, nodeURI, started, ended, result.Err)
		return result, transporterrors.New(transporterrors.BadRequest, nodeURI, result.Err)
	case r.successOrKnownError(endpoint.Method, result):
		auditor.Record(audit.HealthyResponse, nodeURI, started, ended, nil)
		return result, nil
	default:
		statusErr := fmt.Errorf("status %d", result.StatusCode)
		auditor.Record(audit.BadResponse, nodeURI, started, ended, statusErr)
		return result, transporterrors.New(transporterrors.BadResponse, nodeURI, statusErr)
	}
}

// doSniff implements the shared sniff mechanics: try nodes in
// view in order until one sniff succeeds, coalescing concurrent callers
// into a single network round-trip.
func (r *Runner) doSniff(ctx context.Context, auditor *audit.Auditor, bound BoundConfiguration, view []*node.Node) error {
	r.sniffMu.Lock()
	if r.sniffing != nil {
		waiter := r.sniffing
		r.sniffMu.Unlock()
		<-waiter.done
		return waiter.err
	}
	waiter := &sniffWaiter{done: make(chan struct{})}
	r.sniffing = waiter
	r.sniffMu.Unlock()

	err := r.sniffOnce(ctx, auditor, bound, view)

	r.sniffMu.Lock()
	r.sniffing = nil
	r.sniffMu.Unlock()
	waiter.err = err
	close(waiter.done)
	return err
}

func (r *Runner) sniffOnce(ctx context.Context, auditor *audit.Auditor, bound BoundConfiguration, view []*node.Node) error {
	if !r.Product.SupportsSniff() {
		return nil
	}
	if r.Metrics != nil {
		r.Metrics.SniffsTotal.Inc()
	}
	var lastErr error
	for _, n := range view {
		endpoint := invoker.Endpoint{Method: "GET", URL: joinURL(n, r.Product.SniffPath())}
		req := invoker.BoundRequest{Headers: bound.Headers, Timeout: bound.Timeout, Authentication: bound.Authentication}
		result, err := r.Invoker.Call(ctx, endpoint, req, nil)
		if err != nil || result.Err != nil {
			lastErr = firstNonNil(err, result.Err)
			continue
		}
		body, readErr := readAllClose(result.Body)
		if readErr != nil {
			lastErr = readErr
			continue
		}
		nodes, parseErr := r.Product.ParseSniffResponse(body)
		if parseErr != nil {
			lastErr = parseErr
			continue
		}
		if err := r.Pool.Reseed(nodes); err != nil {
			lastErr = err
			continue
		}
		auditor.Emit(audit.SniffSuccess, n.RedactedURI())
		return nil
	}
	auditor.Emit(audit.SniffFailure, "")
	if r.Metrics != nil {
		r.Metrics.SniffFailures.Inc()
	}
	return transporterrors.New(transporterrors.SniffFailed, "", lastErr)
}

func firstNonNil(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

func readAllClose(body io.ReadCloser) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	defer body.Close()
	return io.ReadAll(body)
}

// successOrKnownError is the central termination predicate: it decides
// whether a response status counts as a terminal outcome: 2xx/4xx/5xx
// that the product classifies as Success or KnownError, except
// 502/503/504 which always retry, and any content type mismatch which
// always retries.
func (r *Runner) successOrKnownError(method string, result invoker.CallResult) bool {
	if result.Err != nil {
		return false
	}
	switch result.StatusCode {
	case 502, 503, 504:
		return false
	}
	if !contentTypeMatches(r.Product.MimeType(), result.ContentType) {
		return false
	}
	switch r.Product.ClassifyStatus(method, result.StatusCode) {
	case product.Success, product.KnownError:
		return true
	default:
		return false
	}
}

func contentTypeMatches(expected, got string) bool {
	if expected == "" || got == "" {
		return true
	}
	base := strings.TrimSpace(strings.SplitN(got, ";", 2)[0])
	return strings.EqualFold(base, expected)
}

func (r *Runner) buildSuccess(auditor *audit.Auditor, bound BoundConfiguration, n *node.Node, result invoker.CallResult, builderName string) (*Response, error) {
	builder := r.Builders.Lookup(builderName)
	var body any
	var bodyBytes []byte
	if builder.KeepOpen() {
		v, err := builder.Build(result.Body, result.ContentType)
		if err != nil {
			return r.finalize(auditor, bound, &attemptRecord{node: n, result: result}, transporterrors.Wrap(n.RedactedURI(), auditor, err), builderName)
		}
		body = v
	} else {
		raw, err := readAllClose(result.Body)
		if err != nil {
			return r.finalize(auditor, bound, &attemptRecord{node: n, result: result}, transporterrors.Wrap(n.RedactedURI(), auditor, err), builderName)
		}
		bodyBytes = raw
		v, err := builder.Build(io.NopCloser(bytes.NewReader(raw)), result.ContentType)
		if err != nil {
			return r.finalize(auditor, bound, &attemptRecord{node: n, result: result}, transporterrors.Wrap(n.RedactedURI(), auditor, err), builderName)
		}
		body = v
	}

	details := r.buildDetails(auditor, true, result.StatusCode, n.RedactedURI(), nil)
	details.ResponseBodyInBytes = bodyBytes
	resp := &Response{Body: body, Details: details}
	if r.Config.OnRequestCompleted != nil {
		r.Config.OnRequestCompleted(details)
	}
	return resp, nil
}

// finalize always produces a Response and records the error on its
// OriginalException; the error is additionally returned to the caller
// only when ThrowExceptions is set, otherwise the returned error is nil.
func (r *Runner) finalize(auditor *audit.Auditor, bound BoundConfiguration, last *attemptRecord, pipelineErr error, builderName string) (*Response, error) {
	endpoint := ""
	statusCode := 0
	if last != nil {
		endpoint = last.node.RedactedURI()
		statusCode = last.result.StatusCode
	}

	details := r.buildDetails(auditor, false, statusCode, endpoint, pipelineErr)
	r.maybeAlert(auditor, endpoint, pipelineErr)

	var body any
	if last != nil && last.result.Body != nil {
		builder := r.Builders.Lookup(builderName)
		if v, err := builder.Build(last.result.Body, last.result.ContentType); err == nil {
			body = v
		}
	}
	resp := &Response{Body: body, Details: details}
	if r.Config.OnRequestCompleted != nil {
		r.Config.OnRequestCompleted(details)
	}
	if r.Metrics != nil && pipelineErr != nil {
		r.Metrics.RequestErrors.Inc()
	}

	if bound.ThrowExceptions {
		return resp, pipelineErr
	}
	return resp, nil
}

// maybeAlert fires r.Alerter, best-effort and asynchronously, when the
// trail recorded AllNodesDead or the terminating error is
// FailedOverAllNodes — the two conditions named for alert fan-out.
// Delivery never blocks or fails the call it reports on.
func (r *Runner) maybeAlert(auditor *audit.Auditor, endpoint string, pipelineErr error) {
	if r.Alerter == nil {
		return
	}
	var pe *transporterrors.PipelineError
	failedOver := errors.As(pipelineErr, &pe) && pe.Kind == transporterrors.FailedOverAllNodes
	allDead := false
	for _, e := range auditor.Entries() {
		if e.Event == audit.AllNodesDead {
			allDead = true
			break
		}
	}
	if !failedOver && !allDead {
		return
	}

	msg := "all nodes in the pool failed over"
	if allDead {
		msg = "all nodes in the pool are dead"
	}
	ev := alert.Event{
		Cluster:  r.Cluster,
		Severity: alert.SeverityCritical,
		Message:  msg,
		NodeURI:  endpoint,
		Occurred: r.Clock.Now(),
	}
	go func() {
		if err := r.Alerter.Alert(context.Background(), ev); err != nil {
			r.Logger.Warn("alert delivery failed", "error", err, "cluster", r.Cluster)
		}
	}()
}

func (r *Runner) buildDetails(auditor *audit.Auditor, success bool, statusCode int, endpoint string, pipelineErr error) ApiCallDetails {
	entries := auditor.Entries()
	snaps := make([]AuditEntrySnapshot, len(entries))
	for i, e := range entries {
		excType := ""
		if e.Exception != nil {
			excType = reflect.TypeOf(e.Exception).String()
		}
		snaps[i] = AuditEntrySnapshot{
			Event:         string(e.Event),
			NodeURI:       e.NodeURI,
			Started:       e.Started,
			Ended:         e.Ended,
			ExceptionType: excType,
		}
	}
	return ApiCallDetails{
		Success:           success,
		StatusCode:        statusCode,
		Endpoint:          endpoint,
		AuditTrail:        snaps,
		OriginalException: pipelineErr,
	}
}

func bindEndpoint(n *node.Node, method, path string) invoker.Endpoint {
	return invoker.Endpoint{Method: method, URL: joinURL(n, path)}
}

func joinURL(n *node.Node, path string) string {
	base := strings.TrimRight(n.URI.String(), "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func redactURL(raw string) string {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return raw
	}
	rest := raw[idx+3:]
	at := strings.Index(rest, "@")
	if at < 0 {
		return raw
	}
	return raw[:idx+3] + "redacted:redacted@" + rest[at+1:]
}
