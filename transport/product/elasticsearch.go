package product

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/freitascorp/gotransport/transport/node"
)

// Elasticsearch is the product registration used against a real cluster:
// it enables both sniff and ping, sniffs "/_nodes/http?flat_settings",
// and treats a HEAD 404 as a logical absence rather than an error.
type Elasticsearch struct {
	Version string
}

func (e Elasticsearch) Name() string           { return "elasticsearch" }
func (e Elasticsearch) ProductVersion() string { return e.Version }
func (e Elasticsearch) SupportsSniff() bool    { return true }
func (e Elasticsearch) SupportsPing() bool     { return true }
func (e Elasticsearch) SniffPath() string      { return "/_nodes/http?flat_settings" }
func (e Elasticsearch) PingPath() string       { return "/" }
func (e Elasticsearch) PingMethod() string     { return http.MethodHead }

func (e Elasticsearch) ClassifyStatus(method string, statusCode int) StatusOutcome {
	if method == http.MethodHead && statusCode == http.StatusNotFound {
		return Success
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Success
	case statusCode >= 400 && statusCode < 500:
		return KnownError
	case statusCode >= 500:
		return KnownError
	default:
		return UnknownError
	}
}

func (e Elasticsearch) DefaultHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	return h
}

func (e Elasticsearch) MimeType() string { return "application/json" }

// sniffResponse mirrors the relevant subset of GET /_nodes/http's body.
type sniffResponse struct {
	Nodes map[string]sniffNode `json:"nodes"`
}

type sniffNode struct {
	Name    string            `json:"name"`
	Roles   []string          `json:"roles"`
	Attributes map[string]string `json:"attributes"`
	HTTP    *sniffNodeHTTP    `json:"http"`
	Settings map[string]any   `json:"settings"`
}

type sniffNodeHTTP struct {
	PublishAddress string `json:"publish_address"`
}

// ParseSniffResponse turns a GET /_nodes/http?flat_settings body into
// Nodes, deriving feature tags from the reported roles.
func (e Elasticsearch) ParseSniffResponse(body []byte) ([]*node.Node, error) {
	var parsed sniffResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("product: parse sniff response: %w", err)
	}

	out := make([]*node.Node, 0, len(parsed.Nodes))
	for id, sn := range parsed.Nodes {
		if sn.HTTP == nil || sn.HTTP.PublishAddress == "" {
			continue // not HTTP-enabled; skip like the reference client does
		}
		uriStr := sn.HTTP.PublishAddress
		if _, err := url.Parse("http://" + uriStr); err == nil {
			uriStr = "http://" + uriStr
		}
		u, err := url.Parse(uriStr)
		if err != nil {
			return nil, fmt.Errorf("product: sniffed node %q has invalid publish_address %q: %w", id, sn.HTTP.PublishAddress, err)
		}

		n := node.New(u)
		n.ID = id
		n.Name = sn.Name
		for k, v := range sn.Attributes {
			n.Settings[k] = v
		}
		for _, role := range sn.Roles {
			switch role {
			case "master":
				n.Features[node.FeatureMasterEligible] = true
			case "data":
				n.Features[node.FeatureHoldsData] = true
			case "ingest":
				n.Features[node.FeatureIngest] = true
			}
		}
		n.Features[node.FeatureHTTPEnabled] = true
		out = append(out, n)
	}
	return out, nil
}
