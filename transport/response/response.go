// Package response implements the ResponseBuilder registry: a map from
// a result type to a byte→object build strategy, plus the couple of
// builders every transport needs out of the box.
package response

import (
	"encoding/json"
	"fmt"
	"io"
)

// Builder turns a response body stream into a value of some TResponse
// type. KeepOpen reports whether the builder needs the stream left open
// for the caller (streaming responses) rather than fully consumed and
// closed before Build returns.
type Builder interface {
	KeepOpen() bool
	Build(body io.ReadCloser, contentType string) (any, error)
}

// Registry maps a name (conventionally a type name chosen by the caller)
// to the Builder responsible for it.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry returns a Registry pre-populated with the Bytes and JSON
// builders every transport needs.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.Register("bytes", BytesBuilder{})
	r.Register("json", JSONBuilder{})
	r.Register("stream", StreamBuilder{})
	return r
}

// Register installs or replaces the builder for a name.
func (r *Registry) Register(name string, b Builder) {
	r.builders[name] = b
}

// Lookup returns the builder registered for name, or the Bytes builder if
// none was registered — callers always get something that can consume
// the body.
func (r *Registry) Lookup(name string) Builder {
	if b, ok := r.builders[name]; ok {
		return b
	}
	return BytesBuilder{}
}

// BytesBuilder fully reads and closes the body, returning []byte.
type BytesBuilder struct{}

func (BytesBuilder) KeepOpen() bool { return false }

func (BytesBuilder) Build(body io.ReadCloser, _ string) (any, error) {
	if body == nil {
		return []byte(nil), nil
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("response: read body: %w", err)
	}
	return b, nil
}

// JSONBuilder fully reads and closes the body, decoding into a generic
// any value (map[string]any for a JSON object; callers wanting a concrete
// type build their own Builder and register it).
type JSONBuilder struct{}

func (JSONBuilder) KeepOpen() bool { return false }

func (JSONBuilder) Build(body io.ReadCloser, _ string) (any, error) {
	if body == nil {
		return nil, nil
	}
	defer body.Close()
	var v any
	if err := json.NewDecoder(body).Decode(&v); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("response: decode json: %w", err)
	}
	return v, nil
}

// StreamBuilder leaves the body open and hands the raw ReadCloser to the
// caller, who is contractually required to close it.
type StreamBuilder struct{}

func (StreamBuilder) KeepOpen() bool { return true }

func (StreamBuilder) Build(body io.ReadCloser, _ string) (any, error) {
	return body, nil
}
