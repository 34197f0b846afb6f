package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// probeConfig is populated from GOTRANSPORT_* environment variables, the
// same env-var-driven config loading shape used throughout the pack in
// place of flags for anything that looks like deployment configuration.
type probeConfig struct {
	Nodes          []string `env:"GOTRANSPORT_NODES" envSeparator:"," envDefault:"http://localhost:9200"`
	CloudID        string   `env:"GOTRANSPORT_CLOUD_ID"`
	Username       string   `env:"GOTRANSPORT_USERNAME"`
	Password       string   `env:"GOTRANSPORT_PASSWORD"`
	APIKey         string   `env:"GOTRANSPORT_API_KEY"`
	RequestTimeout string   `env:"GOTRANSPORT_REQUEST_TIMEOUT" envDefault:"30s"`
}

func loadProbeConfig() (probeConfig, error) {
	var cfg probeConfig
	if err := env.Parse(&cfg); err != nil {
		return probeConfig{}, fmt.Errorf("probe: parse environment config: %w", err)
	}
	return cfg, nil
}
