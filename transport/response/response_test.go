package response_test

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freitascorp/gotransport/transport/response"
)

func closer(s string) io.ReadCloser { return io.NopCloser(strings.NewReader(s)) }

func TestBytesBuilderReadsAndClosesFullBody(t *testing.T) {
	b := response.BytesBuilder{}
	assert.False(t, b.KeepOpen())

	v, err := b.Build(closer("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v)
}

func TestBytesBuilderNilBodyReturnsEmpty(t *testing.T) {
	b := response.BytesBuilder{}
	v, err := b.Build(nil, "")
	require.NoError(t, err)
	assert.Equal(t, []byte(nil), v)
}

func TestJSONBuilderDecodesObject(t *testing.T) {
	b := response.JSONBuilder{}
	v, err := b.Build(closer(`{"ok":true,"count":3}`), "application/json")
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["ok"])
	assert.Equal(t, 3.0, m["count"])
}

func TestJSONBuilderEmptyBodyReturnsNil(t *testing.T) {
	b := response.JSONBuilder{}
	v, err := b.Build(closer(""), "application/json")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStreamBuilderKeepsBodyOpen(t *testing.T) {
	b := response.StreamBuilder{}
	assert.True(t, b.KeepOpen())

	body := closer("stream me")
	v, err := b.Build(body, "")
	require.NoError(t, err)
	assert.Equal(t, body, v)
}

func TestRegistryLookupFallsBackToBytes(t *testing.T) {
	r := response.NewRegistry()
	assert.IsType(t, response.BytesBuilder{}, r.Lookup("nonexistent"))
	assert.IsType(t, response.JSONBuilder{}, r.Lookup("json"))
}

func TestRegistryRegisterOverridesABuiltin(t *testing.T) {
	r := response.NewRegistry()
	custom := response.StreamBuilder{}
	r.Register("bytes", custom)
	assert.IsType(t, response.StreamBuilder{}, r.Lookup("bytes"))
}
