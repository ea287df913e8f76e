// Package config handles codedrop configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level codedrop configuration.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	Browser   BrowserConfig   `yaml:"browser"`
	Pages     []PageConfig    `yaml:"pages"`
	Attach    []string        `yaml:"attach"` // URL globs of existing tabs to watch
	Watch     WatchConfig     `yaml:"watch"`
	Stabilize StabilizeConfig `yaml:"stabilize"`
	Marker    string          `yaml:"marker"`
	Submit    SubmitConfig    `yaml:"submit"`
	API       APIConfig       `yaml:"api"`
	Settings  SettingsConfig  `yaml:"settings"`
	Sinks     []SinkConfig    `yaml:"sinks"`
}

// BrowserConfig controls the Chrome connection.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Headless         bool          `yaml:"headless"`
	Stealth          *bool         `yaml:"stealth"` // default true
	DiscoverInterval time.Duration `yaml:"discover_interval"`
}

// StealthEnabled reports the effective stealth setting.
func (b BrowserConfig) StealthEnabled() bool {
	return b.Stealth == nil || *b.Stealth
}

// PageConfig defines a page codedrop opens itself.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// WatchConfig controls mutation observation.
type WatchConfig struct {
	RootSelector      string        `yaml:"root_selector"`
	ContainerSelector string        `yaml:"container_selector"`
	Window            time.Duration `yaml:"window"`
	MaxBuffer         int           `yaml:"max_buffer"`
}

// StabilizeConfig controls the per-block quiet period.
type StabilizeConfig struct {
	Delay time.Duration `yaml:"delay"`
}

// SubmitConfig describes the local backend.
type SubmitConfig struct {
	Host        string        `yaml:"host"`
	DefaultPort int           `yaml:"default_port"`
	Timeout     time.Duration `yaml:"timeout"`
	SubmitPath  string        `yaml:"submit_path"`
	StatusPath  string        `yaml:"status_path"`
}

// APIConfig controls the local control API.
type APIConfig struct {
	Addr string `yaml:"addr"` // empty disables the API
}

// SettingsConfig controls how often stored settings are polled for
// changes made by other processes.
type SettingsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Debounce     time.Duration `yaml:"debounce"`
}

// SinkConfig defines an outcome event backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "codedrop.db"
	}
	if c.Browser.DiscoverInterval <= 0 {
		c.Browser.DiscoverInterval = 2 * time.Second
	}
	if c.Watch.RootSelector == "" {
		c.Watch.RootSelector = "body"
	}
	if c.Watch.ContainerSelector == "" {
		c.Watch.ContainerSelector = "pre"
	}
	if c.Watch.Window <= 0 {
		c.Watch.Window = 300 * time.Millisecond
	}
	if c.Watch.MaxBuffer <= 0 {
		c.Watch.MaxBuffer = 500
	}
	if c.Stabilize.Delay <= 0 {
		c.Stabilize.Delay = 2500 * time.Millisecond
	}
	if c.Marker == "" {
		c.Marker = "@@FILE@@"
	}
	if c.Submit.Host == "" {
		c.Submit.Host = "127.0.0.1"
	}
	if c.Submit.DefaultPort == 0 {
		c.Submit.DefaultPort = 5000
	}
	if c.Submit.Timeout <= 0 {
		c.Submit.Timeout = 30 * time.Second
	}
	if c.Submit.SubmitPath == "" {
		c.Submit.SubmitPath = "/submit_code"
	}
	if c.Submit.StatusPath == "" {
		c.Submit.StatusPath = "/test_connection"
	}
	if c.Settings.PollInterval <= 0 {
		c.Settings.PollInterval = time.Second
	}
	if c.Settings.Debounce < 0 {
		c.Settings.Debounce = 0
	}
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page-%d", i+1)
		}
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Submit.DefaultPort < 1025 || c.Submit.DefaultPort > 65535 {
		return fmt.Errorf("config: submit.default_port %d outside [1025, 65535]", c.Submit.DefaultPort)
	}
	for _, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: page %q has no url", p.ID)
		}
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sink %d: webhook requires url", i)
			}
		default:
			return fmt.Errorf("config: sink %d: unknown type %q", i, s.Type)
		}
	}
	return nil
}
