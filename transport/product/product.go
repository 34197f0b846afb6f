// Package product defines the ProductRegistration contract: the
// product-specific pieces of sniff/ping behavior and status-code
// interpretation that the pipeline otherwise treats generically.
package product

import (
	"net/http"

	"github.com/freitascorp/gotransport/transport/node"
)

// StatusOutcome classifies an HTTP status code for a given method, per
// product-specific rules (e.g. Elasticsearch treats HEAD 404 as a
// logical absence, not an error).
type StatusOutcome int

const (
	Success StatusOutcome = iota
	KnownError
	UnknownError
)

// Registration is the ProductRegistration interface.
type Registration interface {
	Name() string
	ProductVersion() string
	SupportsSniff() bool
	SupportsPing() bool

	SniffPath() string
	ParseSniffResponse(body []byte) ([]*node.Node, error)

	PingPath() string
	PingMethod() string

	ClassifyStatus(method string, statusCode int) StatusOutcome

	DefaultHeaders() http.Header
	MimeType() string
}

// Default opts out of both sniff and ping — the minimal product
// registration for a generic transport with no topology discovery.
type Default struct {
	NameValue    string
	Version      string
	MimeTypeValue string
}

func (d Default) Name() string           { return orDefault(d.NameValue, "generic") }
func (d Default) ProductVersion() string { return d.Version }
func (d Default) SupportsSniff() bool    { return false }
func (d Default) SupportsPing() bool     { return false }
func (d Default) SniffPath() string      { return "" }
func (d Default) ParseSniffResponse([]byte) ([]*node.Node, error) {
	return nil, nil
}
func (d Default) PingPath() string   { return "/" }
func (d Default) PingMethod() string { return http.MethodHead }
func (d Default) ClassifyStatus(_ string, statusCode int) StatusOutcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Success
	case statusCode >= 400 && statusCode < 600:
		return KnownError
	default:
		return UnknownError
	}
}
func (d Default) DefaultHeaders() http.Header { return http.Header{} }
func (d Default) MimeType() string            { return orDefault(d.MimeTypeValue, "application/json") }

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
