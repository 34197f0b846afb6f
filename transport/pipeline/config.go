package pipeline

import (
	"net/http"
	"time"
)

// Config is the transport-wide default configuration.
type Config struct {
	RequestTimeout         time.Duration
	PingTimeout            time.Duration
	DeadTimeout            time.Duration
	MaxDeadTimeout         time.Duration
	MaxRetries             *int // nil = use pool.MaxRetries()
	MaxRetryTimeout        time.Duration
	SniffLifespan          time.Duration // 0 disables stale-cluster sniffing
	SniffOnStartup         bool
	SniffOnConnectionFault bool
	DisablePings           bool
	DisableDirectStreaming bool
	DisableAuditTrail      bool
	DisableMetaHeader      bool
	ThrowExceptions        bool
	HTTPCompression        bool
	Authentication         string
	OnRequestCompleted     func(ApiCallDetails)
}

// DefaultConfig returns the built-in transport defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:         60 * time.Second,
		PingTimeout:            2 * time.Second,
		DeadTimeout:            60 * time.Second,
		MaxDeadTimeout:         30 * time.Minute,
		MaxRetryTimeout:        60 * time.Second,
		SniffOnStartup:         true,
		SniffOnConnectionFault: true,
	}
}

// RequestConfig carries per-call overrides, the input side of
// BoundConfiguration. Nil/zero fields mean "inherit the transport default".
type RequestConfig struct {
	Timeout               *time.Duration
	MaxRetries             *int
	MaxRetryTimeout        *time.Duration
	Headers                http.Header
	DisablePings           *bool
	DisableSniffOnStartup  bool
	ThrowExceptions        *bool
	HTTPCompression        *bool
	Authentication         string
}

// BoundConfiguration is the merged, immutable, per-call configuration.
type BoundConfiguration struct {
	Timeout                time.Duration
	MaxRetryTimeout        time.Duration
	MaxRetriesOverride     *int
	Headers                http.Header
	DisablePings           bool
	DisableSniffOnStartup  bool
	ThrowExceptions        bool
	HTTPCompression        bool
	DisableDirectStreaming bool
	Authentication         string
}

func (r *Runner) bind(reqCfg RequestConfig) BoundConfiguration {
	b := BoundConfiguration{
		Timeout:                r.Config.RequestTimeout,
		MaxRetryTimeout:        r.Config.MaxRetryTimeout,
		Headers:                http.Header{},
		DisablePings:           r.Config.DisablePings,
		DisableSniffOnStartup:  !r.Config.SniffOnStartup,
		ThrowExceptions:        r.Config.ThrowExceptions,
		HTTPCompression:        r.Config.HTTPCompression,
		DisableDirectStreaming: r.Config.DisableDirectStreaming,
		Authentication:         r.Config.Authentication,
	}
	for k, vs := range r.Product.DefaultHeaders() {
		b.Headers[k] = append([]string(nil), vs...)
	}

	if reqCfg.Timeout != nil {
		b.Timeout = *reqCfg.Timeout
	}
	if reqCfg.MaxRetryTimeout != nil {
		b.MaxRetryTimeout = *reqCfg.MaxRetryTimeout
	}
	if reqCfg.MaxRetries != nil {
		b.MaxRetriesOverride = reqCfg.MaxRetries
	} else if r.Config.MaxRetries != nil {
		b.MaxRetriesOverride = r.Config.MaxRetries
	}
	for k, vs := range reqCfg.Headers {
		b.Headers[k] = vs
	}
	if reqCfg.DisablePings != nil {
		b.DisablePings = *reqCfg.DisablePings
	}
	if reqCfg.DisableSniffOnStartup {
		b.DisableSniffOnStartup = true
	}
	if reqCfg.ThrowExceptions != nil {
		b.ThrowExceptions = *reqCfg.ThrowExceptions
	}
	if reqCfg.HTTPCompression != nil {
		b.HTTPCompression = *reqCfg.HTTPCompression
	}
	if reqCfg.Authentication != "" {
		b.Authentication = reqCfg.Authentication
	}
	return b
}

// effectiveMaxRetries computes min(requestConfig.maxRetries ??
// pool.maxRetries, pool.maxRetries).
func effectiveMaxRetries(bound BoundConfiguration, poolMaxRetries int) int {
	if bound.MaxRetriesOverride == nil {
		return poolMaxRetries
	}
	if *bound.MaxRetriesOverride < poolMaxRetries {
		return *bound.MaxRetriesOverride
	}
	return poolMaxRetries
}

// ApiCallDetails is the debug/observability envelope attached to every
// response, success or failure.
type ApiCallDetails struct {
	Success              bool
	StatusCode           int
	Endpoint             string // redacted node URI actually attempted, if any
	AuditTrail           []AuditEntrySnapshot
	OriginalException    error
	RequestBodyInBytes   []byte
	ResponseBodyInBytes  []byte
}

// AuditEntrySnapshot is the serialized form of one audit.Entry: event
// name, redacted node URI, timing, and exception type-name.
type AuditEntrySnapshot struct {
	Event         string
	NodeURI       string
	Started       time.Time
	Ended         time.Time
	ExceptionType string
}
