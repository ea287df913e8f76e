package codedrop

import (
	"github.com/hazyhaar/codedrop/internal/config"
)

// Config is the top-level codedrop configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls the Chrome connection.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page codedrop opens itself.
type PageConfig = config.PageConfig

// WatchConfig controls mutation observation.
type WatchConfig = config.WatchConfig

// SubmitConfig describes the local backend.
type SubmitConfig = config.SubmitConfig

// SinkConfig defines an outcome event backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
