package invoker

import (
	"compress/gzip"
	"context"
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPDefaultsToAPlainClientWhenNoPinningRequested(t *testing.T) {
	h := NewHTTP(HTTPOptions{})
	assert.NotNil(t, h.client)
	assert.Nil(t, h.client.Transport, "no pinning requested, so the default transport is left untouched")
}

func TestNewHTTPWithFingerprintInstallsPinningTransport(t *testing.T) {
	h := NewHTTP(HTTPOptions{CertificateFingerprint: "deadbeef"})
	transport, ok := h.client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, transport.TLSClientConfig)
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
	assert.NotNil(t, transport.TLSClientConfig.VerifyPeerCertificate)
}

func TestNewHTTPWithValidationCallbackInstallsPinningTransport(t *testing.T) {
	called := false
	cb := func(*x509.Certificate) bool { called = true; return true }
	h := NewHTTP(HTTPOptions{ServerCertificateValidationCallback: cb})
	transport, ok := h.client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, transport.TLSClientConfig.VerifyPeerCertificate)
	assert.False(t, called, "callback must not be invoked at construction time")
}

func TestNewHTTPPreservesACustomClientsExistingTransport(t *testing.T) {
	base := &http.Transport{MaxIdleConns: 7}
	custom := &http.Client{Transport: base}
	h := NewHTTP(HTTPOptions{Client: custom, CertificateFingerprint: "deadbeef"})
	transport, ok := h.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 7, transport.MaxIdleConns)
	assert.NotSame(t, base, transport, "cloneWithPinning must clone rather than mutate the caller's transport")
}

func TestCallAttachesHeadersAuthAndContentLength(t *testing.T) {
	var gotMethod, gotAuth, gotCustom string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Custom")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	}))
	defer srv.Close()

	h := NewHTTP(HTTPOptions{})
	hdr := http.Header{}
	hdr.Set("X-Custom", "yes")
	result, err := h.Call(context.Background(), Endpoint{Method: http.MethodPost, URL: srv.URL + "/index/_doc"},
		BoundRequest{Headers: hdr, Authentication: "ApiKey abc123", DisableDirectStreaming: true},
		strings.NewReader("payload"))
	require.NoError(t, err)
	require.Nil(t, result.Err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "ApiKey abc123", gotAuth)
	assert.Equal(t, "yes", gotCustom)
	assert.Equal(t, "payload", string(gotBody))
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "application/json", result.ContentType)

	body, _ := io.ReadAll(result.Body)
	assert.JSONEq(t, `{"acknowledged":true}`, string(body))
}

func TestCallCompressesBodyWhenHTTPCompressionIsSet(t *testing.T) {
	var gotEncoding, gotAcceptEncoding string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		gotAcceptEncoding = r.Header.Get("Accept-Encoding")
		gr, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		gotBody, _ = io.ReadAll(gr)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewHTTP(HTTPOptions{})
	_, err := h.Call(context.Background(), Endpoint{Method: http.MethodPost, URL: srv.URL},
		BoundRequest{HTTPCompression: true}, strings.NewReader(`{"a":1}`))
	require.NoError(t, err)

	assert.Equal(t, "gzip", gotEncoding)
	assert.Equal(t, "gzip", gotAcceptEncoding)
	assert.Equal(t, `{"a":1}`, string(gotBody))
}

func TestCallReportsErrWhenServerUnreachable(t *testing.T) {
	h := NewHTTP(HTTPOptions{})
	result, err := h.Call(context.Background(), Endpoint{Method: http.MethodGet, URL: "http://127.0.0.1:1"}, BoundRequest{}, nil)
	require.NoError(t, err, "transport failures surface through CallResult.Err, not the method's own error return")
	assert.Error(t, result.Err)
}
