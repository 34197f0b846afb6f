package transport_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freitascorp/gotransport/transport"
	"github.com/freitascorp/gotransport/transport/pipeline"
	"github.com/freitascorp/gotransport/transport/pool"
	"github.com/freitascorp/gotransport/transport/product"
	"github.com/freitascorp/gotransport/transport/transporttest"
)

func TestRequestAttachesMetaHeaderAndUserAgent(t *testing.T) {
	nodes, err := pool.NodesFromURIs("http://a:9200")
	require.NoError(t, err)
	p, err := pool.NewSingle(pool.Config{}, nodes[0])
	require.NoError(t, err)

	inv := transporttest.NewInvoker()
	tp := transport.New(p, product.Elasticsearch{Version: "8.15.0"}, pipeline.DefaultConfig(), transport.WithInvoker(inv))

	resp, err := tp.Request(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err)
	assert.True(t, resp.Details.Success)

	require.Len(t, inv.Calls, 1)
	hdr := inv.Calls[0].Headers
	assert.Contains(t, hdr.Get("x-elastic-client-meta"), "et=1.0.0,")
	assert.Contains(t, hdr.Get("User-Agent"), "elasticsearch/8.15.0")
}

func TestRequestDefaultsHeadersWhenCallerPassesNone(t *testing.T) {
	nodes, err := pool.NodesFromURIs("http://a:9200")
	require.NoError(t, err)
	p, err := pool.NewSingle(pool.Config{}, nodes[0])
	require.NoError(t, err)

	inv := transporttest.NewInvoker()
	tp := transport.New(p, product.Default{}, pipeline.DefaultConfig(), transport.WithInvoker(inv))

	_, err = tp.Request(context.Background(), http.MethodGet, "/", nil, pipeline.RequestConfig{}, "bytes")
	require.NoError(t, err)
}

func TestCertificateFingerprintFromPEMRejectsMissingFile(t *testing.T) {
	_, err := transport.CertificateFingerprintFromPEM("/nonexistent/path.pem")
	assert.Error(t, err)
}
