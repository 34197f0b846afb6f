package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/freitascorp/gotransport/transport"
	"github.com/freitascorp/gotransport/transport/pipeline"
	"github.com/freitascorp/gotransport/transport/pool"
	"github.com/freitascorp/gotransport/transport/product"
)

var (
	flagMethod string
	flagJSON   bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gotransport-probe [path]",
		Short: "Send one request through a configured cluster and print the audit trail",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runProbe,
	}
	root.Flags().StringVarP(&flagMethod, "method", "X", "GET", "HTTP method")
	root.Flags().BoolVar(&flagJSON, "json", false, "print the audit trail as JSON instead of a table")
	return root
}

func runProbe(cmd *cobra.Command, args []string) error {
	path := "/"
	if len(args) == 1 {
		path = args[0]
	}

	cfg, err := loadProbeConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	p, prod, err := buildPool(cfg)
	if err != nil {
		return err
	}

	timeout, err := time.ParseDuration(cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("probe: parse GOTRANSPORT_REQUEST_TIMEOUT: %w", err)
	}
	pcfg := pipeline.DefaultConfig()
	pcfg.RequestTimeout = timeout

	t := transport.New(p, prod, pcfg, transport.WithLogger(logger))

	reqCfg := pipeline.RequestConfig{}
	if auth := buildAuthHeader(cfg); auth != "" {
		reqCfg.Authentication = auth
	}

	resp, err := t.Request(cmd.Context(), flagMethod, path, nil, reqCfg, "bytes")
	if err != nil && resp == nil {
		return fmt.Errorf("probe: request failed: %w", err)
	}

	printDetails(cmd.OutOrStdout(), resp.Details, resp.Body)
	return nil
}

func buildPool(cfg probeConfig) (pool.Pool, product.Registration, error) {
	prod := product.Elasticsearch{}
	if cfg.CloudID != "" {
		p, err := pool.NewCloud(pool.Config{}, cfg.CloudID, pool.TargetElasticsearch)
		return p, prod, err
	}
	nodes, err := pool.NodesFromURIs(cfg.Nodes...)
	if err != nil {
		return nil, nil, fmt.Errorf("probe: %w", err)
	}
	if len(nodes) == 1 {
		p, err := pool.NewSingle(pool.Config{}, nodes[0])
		return p, prod, err
	}
	p, err := pool.NewSniffing(pool.Config{}, nodes, pool.StaticOptions{})
	return p, prod, err
}

func buildAuthHeader(cfg probeConfig) string {
	switch {
	case cfg.APIKey != "":
		return "ApiKey " + cfg.APIKey
	case cfg.Username != "":
		raw := cfg.Username + ":" + cfg.Password
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	default:
		return ""
	}
}

func printDetails(w io.Writer, details pipeline.ApiCallDetails, body any) {
	if flagJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(details)
		return
	}

	fmt.Fprintf(w, "success: %v\n", details.Success)
	fmt.Fprintf(w, "status:  %d\n", details.StatusCode)
	fmt.Fprintf(w, "node:    %s\n", details.Endpoint)
	if details.OriginalException != nil {
		fmt.Fprintf(w, "error:   %v\n", details.OriginalException)
	}
	fmt.Fprintln(w, "\naudit trail:")
	for _, e := range details.AuditTrail {
		fmt.Fprintf(w, "  %-24s %-30s %s\n", e.Event, e.NodeURI, e.Ended.Sub(e.Started))
	}
	if b, ok := body.([]byte); ok && len(b) > 0 {
		fmt.Fprintf(w, "\nbody:\n%s\n", b)
	}
}
