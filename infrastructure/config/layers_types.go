package config

// LayerSettings holds configuration for a single feature layer from layers.yaml.
type LayerSettings struct {
	// Enabled determines if the layer should be registered at startup.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Port is the HTTP port for the layer's dedicated listener, if any.
	Port int `yaml:"port" json:"port"`

	// Description is a human-readable description.
	Description string `yaml:"description" json:"description"`

	// Extra holds any additional layer-specific configuration.
	Extra map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// LayersConfig holds configuration for all feature layers.
type LayersConfig struct {
	Services map[string]*LayerSettings `yaml:"layers" json:"layers"`
}

// IsEnabled checks if a layer is enabled in the configuration.
// Returns false if the layer is not found in config.
func (c *LayersConfig) IsEnabled(layerID string) bool {
	if c == nil || c.Services == nil {
		return false
	}
	settings, ok := c.Services[layerID]
	if !ok {
		return false
	}
	return settings.Enabled
}

// GetSettings returns the settings for a layer.
// Returns nil if the layer is not found.
func (c *LayersConfig) GetSettings(layerID string) *LayerSettings {
	if c == nil || c.Services == nil {
		return nil
	}
	return c.Services[layerID]
}

// EnabledServices returns a list of enabled layer IDs.
func (c *LayersConfig) EnabledServices() []string {
	if c == nil || c.Services == nil {
		return nil
	}
	var enabled []string
	for id, settings := range c.Services {
		if settings.Enabled {
			enabled = append(enabled, id)
		}
	}
	return enabled
}

// DisabledServices returns a list of disabled layer IDs.
func (c *LayersConfig) DisabledServices() []string {
	if c == nil || c.Services == nil {
		return nil
	}
	var disabled []string
	for id, settings := range c.Services {
		if !settings.Enabled {
			disabled = append(disabled, id)
		}
	}
	return disabled
}
