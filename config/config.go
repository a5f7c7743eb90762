package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete dashboard configuration
type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Recorder RecorderConfig `yaml:"recorder"`
	View     ViewConfig     `yaml:"view"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// FeedConfig contains snapshot source settings
type FeedConfig struct {
	// Mode forces mock or live at startup; empty falls back to the saved
	// preference, then mock.
	Mode      string `yaml:"mode"`
	PrefsPath string `yaml:"prefs_path"`

	PullURL           string     `yaml:"pull_url"`
	PollIntervalSec   int        `yaml:"poll_interval_sec"`
	ReconnectDelaySec int        `yaml:"reconnect_delay_sec"`
	RequestTimeoutSec int        `yaml:"request_timeout_sec"`
	Push              PushConfig `yaml:"push"`
	MockEntries       int        `yaml:"mock_entries"`
	MockIntervalSec   int        `yaml:"mock_interval_sec"`
	MockSeed          int64      `yaml:"mock_seed"`
}

// PushConfig selects and configures the push transport
type PushConfig struct {
	// Kind is "websocket", "mqtt", or "none".
	Kind   string `yaml:"kind"`
	URL    string `yaml:"url"`    // websocket
	Broker string `yaml:"broker"` // mqtt
	Port   int    `yaml:"port"`   // mqtt
	Topic  string `yaml:"topic"`  // mqtt
}

// MetricsConfig contains metrics endpoint settings
type MetricsConfig struct {
	Enabled            bool   `yaml:"enabled"`
	URL                string `yaml:"url"`
	RefreshIntervalSec int    `yaml:"refresh_interval_sec"`
	Range              string `yaml:"range"`
	Bucket             string `yaml:"bucket"`
}

// RecorderConfig contains local history settings
type RecorderConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Path             string `yaml:"path"`
	FlushIntervalSec int    `yaml:"flush_interval_sec"`
}

// ViewConfig holds default view behavior
type ViewConfig struct {
	PresetDir     string `yaml:"preset_dir"`
	DefaultPreset string `yaml:"default_preset"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	File string `yaml:"file"`
}

// Load loads configuration from a YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Feed.Mode {
	case "", "mock", "live":
	default:
		return fmt.Errorf("feed.mode must be mock or live, got %q", c.Feed.Mode)
	}
	switch c.Feed.Push.Kind {
	case "", "none", "websocket", "mqtt":
	default:
		return fmt.Errorf("feed.push.kind must be websocket, mqtt or none, got %q", c.Feed.Push.Kind)
	}
	if c.Feed.Push.Kind == "websocket" && c.Feed.Push.URL == "" {
		return fmt.Errorf("feed.push.url required for websocket push")
	}
	if c.Feed.Push.Kind == "mqtt" && (c.Feed.Push.Broker == "" || c.Feed.Push.Topic == "") {
		return fmt.Errorf("feed.push.broker and feed.push.topic required for mqtt push")
	}
	return nil
}

// Print displays the configuration
func (c *Config) Print() {
	mode := c.Feed.Mode
	if mode == "" {
		mode = "saved preference"
	}
	fmt.Printf("Feed: mode=%s\n", mode)
	if c.Feed.PullURL != "" {
		fmt.Printf("Pull: %s (every %ds, reconnect after %ds)\n",
			c.Feed.PullURL, c.Feed.PollIntervalSec, c.Feed.ReconnectDelaySec)
	}
	switch c.Feed.Push.Kind {
	case "websocket":
		fmt.Printf("Push: websocket %s\n", c.Feed.Push.URL)
	case "mqtt":
		fmt.Printf("Push: mqtt %s:%d (topic: %s)\n", c.Feed.Push.Broker, c.Feed.Push.Port, c.Feed.Push.Topic)
	}
	if c.Metrics.Enabled {
		fmt.Printf("Metrics: %s (every %ds)\n", c.Metrics.URL, c.Metrics.RefreshIntervalSec)
	}
	if c.Recorder.Enabled {
		fmt.Printf("Recorder: %s\n", c.Recorder.Path)
	}
}
