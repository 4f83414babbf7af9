package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadLayersConfig loads the feature layer configuration from config/layers.yaml
func LoadLayersConfig() (*LayersConfig, error) {
	return LoadLayersConfigFromPath(filepath.Join("config", "layers.yaml"))
}

// LoadLayersConfigFromPath loads the feature layer configuration from a specific path
func LoadLayersConfigFromPath(path string) (*LayersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layers config: %w", err)
	}

	var cfg LayersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse layers config: %w", err)
	}
	return &cfg, nil
}

// LoadLayersConfigOrDefault loads layers config or returns the default if the
// file is not found.
func LoadLayersConfigOrDefault() *LayersConfig {
	cfg, err := LoadLayersConfig()
	if err != nil {
		return DefaultLayersConfig()
	}
	return cfg
}

// DefaultLayersConfig returns the default feature layer configuration: the
// registry's own HTTP surface plus the standard set of optional layers.
func DefaultLayersConfig() *LayersConfig {
	return &LayersConfig{
		Services: map[string]*LayerSettings{
			"registry": {
				Enabled:     true,
				Port:        8090,
				Description: "core entry registry HTTP and websocket surface",
			},
			"subscriptions": {
				Enabled:     true,
				Description: "per-entry subscription bus and fan-out",
			},
			"streaming": {
				Enabled:     true,
				Description: "bidirectional streaming engine",
			},
			"propagation": {
				Enabled:     true,
				Description: "rule-based propagation engine",
			},
			"hotswap": {
				Enabled:     true,
				Description: "zero-downtime hot-swap manager",
			},
			"bridge": {
				Enabled:     false,
				Description: "integration bridge for external service discovery",
			},
		},
	}
}
