// Package config handles tabvol configuration from YAML files, with
// defaults suitable for attaching to a locally running browser.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level tabvol configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Store   StoreConfig   `yaml:"store"`
	Panel   PanelConfig   `yaml:"panel"`
	Scan    ScanConfig    `yaml:"scan"`
}

// BrowserConfig controls how tabvol reaches the browser.
type BrowserConfig struct {
	// Remote is the DevTools WebSocket URL of a running browser.
	// Empty = launch a local instance via the rod launcher.
	Remote string `yaml:"remote"`

	// Headless applies to locally launched instances only.
	Headless bool `yaml:"headless"`

	// Stealth creates pages with automation-detection countermeasures.
	Stealth bool `yaml:"stealth"`
}

// StoreConfig locates the durable site-volume database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// PanelConfig controls the control-panel HTTP server and its poll loop.
type PanelConfig struct {
	Listen       string        `yaml:"listen"`
	PollInterval time.Duration `yaml:"poll_interval"`
	QuietDelay   time.Duration `yaml:"quiet_delay"`
}

// ScanConfig tunes media discovery inside each tab.
type ScanConfig struct {
	// VisibleLimit caps non-playing visible-or-audio elements per scan.
	VisibleLimit int `yaml:"visible_limit"`
	// OffscreenLimit caps additional off-screen elements per scan.
	OffscreenLimit int `yaml:"offscreen_limit"`
	// ViewportMargin is the visibility margin around the viewport, px.
	ViewportMargin int `yaml:"viewport_margin"`

	// FeedHosts are video-heavy feed sites where paused videos are kept
	// only above a minimum footprint and near the viewport. Subdomains
	// match.
	FeedHosts     []string `yaml:"feed_hosts"`
	FeedMinWidth  int      `yaml:"feed_min_width"`
	FeedMinHeight int      `yaml:"feed_min_height"`
	FeedMargin    int      `yaml:"feed_margin"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with the built-in defaults.
func (c *Config) ApplyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "data/tabvol.db"
	}
	if c.Panel.Listen == "" {
		c.Panel.Listen = "127.0.0.1:8787"
	}
	if c.Panel.PollInterval <= 0 {
		c.Panel.PollInterval = 1500 * time.Millisecond
	}
	if c.Panel.QuietDelay <= 0 {
		c.Panel.QuietDelay = 500 * time.Millisecond
	}
	if c.Scan.VisibleLimit <= 0 {
		c.Scan.VisibleLimit = 3
	}
	if c.Scan.OffscreenLimit <= 0 {
		c.Scan.OffscreenLimit = 1
	}
	if c.Scan.ViewportMargin <= 0 {
		c.Scan.ViewportMargin = 100
	}
	if len(c.Scan.FeedHosts) == 0 {
		c.Scan.FeedHosts = []string{"twitter.com", "x.com"}
	}
	if c.Scan.FeedMinWidth <= 0 {
		c.Scan.FeedMinWidth = 200
	}
	if c.Scan.FeedMinHeight <= 0 {
		c.Scan.FeedMinHeight = 200
	}
	if c.Scan.FeedMargin <= 0 {
		c.Scan.FeedMargin = 50
	}
}
