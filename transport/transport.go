// Package transport is the public facade: given a method, path, and
// body it drives the request pipeline against a node pool and returns a
// response or surfaces the pipeline's error, attaching the audit trail
// either way.
package transport

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"

	"github.com/freitascorp/gotransport/transport/alert"
	"github.com/freitascorp/gotransport/transport/invoker"
	"github.com/freitascorp/gotransport/transport/metrics"
	"github.com/freitascorp/gotransport/transport/pipeline"
	"github.com/freitascorp/gotransport/transport/pool"
	"github.com/freitascorp/gotransport/transport/product"
	"github.com/freitascorp/gotransport/transport/response"
)

const transportVersion = "1.0.0"

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithLogger overrides the default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.runner.Logger = l }
}

// WithMetrics attaches a metrics.TransportMetrics instance.
func WithMetrics(m *metrics.TransportMetrics) Option {
	return func(t *Transport) { t.runner.Metrics = m }
}

// WithBuilders replaces the default response.Registry.
func WithBuilders(r *response.Registry) Option {
	return func(t *Transport) { t.runner.Builders = r }
}

// WithHTTPOptions configures the concrete net/http RequestInvoker
// (TLS pinning, connection pooling) instead of the package default.
func WithHTTPOptions(opts invoker.HTTPOptions) Option {
	return func(t *Transport) { t.runner.Invoker = invoker.NewHTTP(opts) }
}

// WithInvoker overrides the RequestInvoker entirely (used by tests to
// inject transporttest.Invoker).
func WithInvoker(inv invoker.RequestInvoker) Option {
	return func(t *Transport) { t.runner.Invoker = inv }
}

// WithAlerter attaches an alert.Alerter, notified under the named cluster
// whenever a call exhausts the pool (FailedOverAllNodes) or finds every
// node dead.
func WithAlerter(cluster string, a alert.Alerter) Option {
	return func(t *Transport) {
		t.runner.Alerter = a
		t.runner.Cluster = cluster
	}
}

// Transport binds a node pool and a product registration into the
// ready-to-use client surface.
type Transport struct {
	runner  *pipeline.Runner
	product product.Registration
	helper  string // conventional http-client identifier for the meta-header
}

// New builds a Transport from a pool, a product registration, and a
// pipeline configuration. By default it uses the production net/http
// invoker with no TLS pinning; use WithHTTPOptions or WithInvoker to
// change that.
func New(p pool.Pool, prod product.Registration, cfg pipeline.Config, opts ...Option) *Transport {
	t := &Transport{
		runner:  pipeline.NewRunner(p, prod, invoker.NewHTTP(invoker.HTTPOptions{}), cfg),
		product: prod,
		helper:  "gt",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Request is the public call surface:
// request(method, path, body?, requestConfig?, cancel?) -> response<T>.
func (t *Transport) Request(ctx context.Context, method, path string, body io.Reader, reqCfg pipeline.RequestConfig, builderName string) (*pipeline.Response, error) {
	if reqCfg.Headers == nil {
		reqCfg.Headers = http.Header{}
	}
	if !t.runner.Config.DisableMetaHeader {
		reqCfg.Headers.Set("x-elastic-client-meta", t.metaHeader())
		reqCfg.Headers.Set("User-Agent", t.userAgent())
	}
	return t.runner.Execute(ctx, method, path, body, reqCfg, builderName)
}

// metaHeader builds "et=<transportVer>,a=<0|1>,net=<runtimeVer>,<helper>=<runtimeVer>[,h=<helper>]".
func (t *Transport) metaHeader() string {
	async := "0"
	runtimeVer := trimGoPrefix(runtime.Version())
	return fmt.Sprintf("et=%s,a=%s,net=%s,%s=%s", transportVersion, async, runtimeVer, t.helper, runtimeVer)
}

// userAgent builds a conventional "<product>/<version> (<helper>; <go version>)"
// string.
func (t *Transport) userAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", t.product.Name(), t.product.ProductVersion(), t.helper, runtime.Version())
}

func trimGoPrefix(v string) string {
	if len(v) > 2 && v[:2] == "go" {
		return v[2:]
	}
	return v
}

// CertificateFingerprintFromPEM reads a PEM-encoded certificate from disk
// and returns its hex SHA-256 fingerprint, for callers wiring up
// WithHTTPOptions(invoker.HTTPOptions{CertificateFingerprint: ...}).
func CertificateFingerprintFromPEM(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("transport: read certificate %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return "", fmt.Errorf("transport: %s does not contain a PEM block", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("transport: parse certificate %s: %w", path, err)
	}
	sum := sha256.Sum256(cert.Raw)
	return fmt.Sprintf("%x", sum), nil
}
