package pool

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/freitascorp/gotransport/transport/audit"
	"github.com/freitascorp/gotransport/transport/node"
)

// Cloud is a single-node pool whose node URI is derived from a base64
// "cloud ID". Like Single, it never pings or reseeds.
type Cloud struct {
	*base
}

// CloudTarget selects which service a cloud ID's single node should point
// at: Elasticsearch (the default) or Kibana, when the ID encodes one.
type CloudTarget int

const (
	TargetElasticsearch CloudTarget = iota
	TargetKibana
)

// NewCloud parses a cloud ID and builds a single-node pool pointed at the
// requested target.
func NewCloud(cfg Config, cloudID string, target CloudTarget) (*Cloud, error) {
	decoded, err := ParseCloudID(cloudID)
	if err != nil {
		return nil, err
	}

	var uriStr string
	switch target {
	case TargetKibana:
		if decoded.KibanaUUID == "" {
			return nil, fmt.Errorf("pool: cloud id %q has no Kibana UUID", decoded.Name)
		}
		uriStr = serviceURI(decoded.KibanaUUID, decoded.Host, decoded.KibanaPort)
	default:
		uriStr = serviceURI(decoded.ESUUID, decoded.Host, decoded.ESPort)
	}

	u, err := url.Parse(uriStr)
	if err != nil {
		return nil, fmt.Errorf("pool: cloud id produced invalid uri %q: %w", uriStr, err)
	}

	b, err := newBase(cfg, []*node.Node{node.New(u)})
	if err != nil {
		return nil, err
	}
	return &Cloud{base: b}, nil
}

func (c *Cloud) CreateView(auditor *audit.Auditor) []*node.Node {
	return c.Nodes()
}

func (c *Cloud) MaxRetries() int         { return 0 }
func (c *Cloud) SupportsPinging() bool   { return false }
func (c *Cloud) SupportsReseeding() bool { return false }
func (c *Cloud) Reseed([]*node.Node) error {
	return fmt.Errorf("pool: Cloud does not support reseeding")
}

// DecodedCloudID is the parsed form of a cloud ID payload.
type DecodedCloudID struct {
	Name       string
	Host       string
	ESUUID     string
	ESPort     string
	KibanaUUID string
	KibanaPort string
}

// ParseCloudID decodes a cloud ID of the form
// "name:base64(host$esUUID[:port][$kibanaUUID[:port]][...])",
// bit-exact with existing deployments. Every failure condition is
// reported as a descriptive error naming the offending component.
func ParseCloudID(cloudID string) (*DecodedCloudID, error) {
	if cloudID == "" {
		return nil, fmt.Errorf("pool: cloud id is empty")
	}
	sep := strings.IndexByte(cloudID, ':')
	if sep < 0 {
		return nil, fmt.Errorf("pool: cloud id %q is missing the ':' separator before the base64 payload", cloudID)
	}
	name, b64 := cloudID[:sep], cloudID[sep+1:]
	if b64 == "" {
		return nil, fmt.Errorf("pool: cloud id %q has an empty base64 payload", cloudID)
	}

	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("pool: cloud id %q has an invalid base64 payload: %w", cloudID, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("pool: cloud id %q decodes to an empty payload", cloudID)
	}

	tokens := strings.Split(string(raw), "$")
	if len(tokens) < 2 {
		return nil, fmt.Errorf("pool: cloud id %q payload needs at least host$esUUID, got %d token(s)", cloudID, len(tokens))
	}

	host, hostPort := splitHostPort(tokens[0], "443")
	if host == "" {
		return nil, fmt.Errorf("pool: cloud id %q has an empty host", cloudID)
	}

	esUUID, esPort := splitHostPort(tokens[1], hostPort)
	if esUUID == "" {
		return nil, fmt.Errorf("pool: cloud id %q has an empty Elasticsearch UUID", cloudID)
	}

	decoded := &DecodedCloudID{Name: name, Host: host, ESUUID: esUUID, ESPort: esPort}

	if len(tokens) >= 3 && tokens[2] != "" {
		kibanaUUID, kibanaPort := splitHostPort(tokens[2], hostPort)
		decoded.KibanaUUID = kibanaUUID
		decoded.KibanaPort = kibanaPort
	}

	return decoded, nil
}

func splitHostPort(token, defaultPort string) (host, port string) {
	if i := strings.IndexByte(token, ':'); i >= 0 {
		return token[:i], token[i+1:]
	}
	return token, defaultPort
}

// serviceURI builds "https://{uuid}.{host}" or "https://{uuid}.{host}:{port}";
// port 443 is elided.
func serviceURI(uuid, host, port string) string {
	if port == "" || port == "443" {
		return fmt.Sprintf("https://%s.%s", uuid, host)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Sprintf("https://%s.%s", uuid, host)
	}
	return fmt.Sprintf("https://%s.%s:%s", uuid, host, port)
}
