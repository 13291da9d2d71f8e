// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the wiresight agent.
type Config struct {
	LogLevel  string          `yaml:"log_level" env:"WIRESIGHT_LOG_LEVEL"`
	Mode      string          `yaml:"mode" env:"WIRESIGHT_MODE"` // "http", "connections", "bandwidth"
	Capture   CaptureConfig   `yaml:"capture"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	HTTP      HTTPConfig      `yaml:"http"`
	Exporters ExportersConfig `yaml:"exporters"`
	LiveFeed  LiveFeedConfig  `yaml:"livefeed"`
	Health    HealthConfig    `yaml:"health"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// CaptureConfig selects the segment source.
type CaptureConfig struct {
	Interface string `yaml:"interface" env:"WIRESIGHT_CAPTURE_INTERFACE"`
	PcapFile  string `yaml:"pcap_file" env:"WIRESIGHT_CAPTURE_PCAP_FILE"`
	BPFFilter string `yaml:"bpf_filter"`
	SnapLen   int    `yaml:"snap_len"`
}

// TrackerConfig tunes the connection manager.
type TrackerConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// HTTPConfig tunes session reconstruction.
type HTTPConfig struct {
	Enabled        bool  `yaml:"enabled"`
	MaxStreamBytes int64 `yaml:"max_stream_bytes"`
}

// ExportersConfig configures transaction sinks.
type ExportersConfig struct {
	OTLP   OTLPConfig   `yaml:"otlp"`
	Stdout StdoutConfig `yaml:"stdout"`
}

// OTLPConfig configures the OTLP gRPC exporter.
type OTLPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint" env:"WIRESIGHT_EXPORTERS_OTLP_ENDPOINT"`
	Insecure bool   `yaml:"insecure"`
}

// StdoutConfig configures the stdout exporter.
type StdoutConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "text" or "json"
}

// LiveFeedConfig configures the WebSocket event feed.
type LiveFeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" env:"WIRESIGHT_LIVEFEED_ADDR"`
}

// HealthConfig configures the health HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port" env:"WIRESIGHT_HEALTH_PORT"` // e.g. ":8787"
}

// MetricsConfig configures agent self metrics.
type MetricsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Mode:     "http",
		Capture: CaptureConfig{
			BPFFilter: "tcp",
			SnapLen:   65535,
		},
		Tracker: TrackerConfig{
			IdleTimeout:   5 * time.Minute,
			SweepInterval: time.Second,
		},
		HTTP: HTTPConfig{
			Enabled:        true,
			MaxStreamBytes: 8 * 1024 * 1024,
		},
		Exporters: ExportersConfig{
			OTLP: OTLPConfig{
				Enabled:  false,
				Endpoint: "localhost:4317",
				Insecure: true,
			},
			Stdout: StdoutConfig{
				Enabled: true,
				Format:  "text",
			},
		},
		LiveFeed: LiveFeedConfig{
			Enabled: false,
			Addr:    ":8788",
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    ":8787",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Interval: 15 * time.Second,
		},
	}
}

// ApplyEnvOverrides reads WIRESIGHT_* environment variables and applies
// them to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	stringOverrides := map[string]*string{
		"WIRESIGHT_LOG_LEVEL":               &c.LogLevel,
		"WIRESIGHT_MODE":                    &c.Mode,
		"WIRESIGHT_CAPTURE_INTERFACE":       &c.Capture.Interface,
		"WIRESIGHT_CAPTURE_PCAP_FILE":       &c.Capture.PcapFile,
		"WIRESIGHT_EXPORTERS_OTLP_ENDPOINT": &c.Exporters.OTLP.Endpoint,
		"WIRESIGHT_LIVEFEED_ADDR":           &c.LiveFeed.Addr,
		"WIRESIGHT_HEALTH_PORT":             &c.Health.Port,
	}

	boolOverrides := map[string]*bool{
		"WIRESIGHT_HTTP_ENABLED":           &c.HTTP.Enabled,
		"WIRESIGHT_EXPORTERS_OTLP_ENABLED": &c.Exporters.OTLP.Enabled,
		"WIRESIGHT_LIVEFEED_ENABLED":       &c.LiveFeed.Enabled,
		"WIRESIGHT_HEALTH_ENABLED":         &c.Health.Enabled,
		"WIRESIGHT_METRICS_ENABLED":        &c.Metrics.Enabled,
	}

	for key, target := range stringOverrides {
		if val := os.Getenv(key); val != "" {
			*target = val
		}
	}
	for key, target := range boolOverrides {
		if val := os.Getenv(key); val != "" {
			*target = parseBool(val)
		}
	}
	if val := os.Getenv("WIRESIGHT_HTTP_MAX_STREAM_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.HTTP.MaxStreamBytes = n
		}
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

var validModes = map[string]bool{
	"http":        true,
	"connections": true,
	"bandwidth":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if !validModes[c.Mode] {
		return fmt.Errorf("invalid mode %q (want http, connections, or bandwidth)", c.Mode)
	}
	if c.Tracker.IdleTimeout <= 0 {
		return fmt.Errorf("tracker.idle_timeout must be positive, got %s", c.Tracker.IdleTimeout)
	}
	if c.Tracker.SweepInterval <= 0 {
		return fmt.Errorf("tracker.sweep_interval must be positive, got %s", c.Tracker.SweepInterval)
	}
	if c.HTTP.MaxStreamBytes < 0 {
		return fmt.Errorf("http.max_stream_bytes must not be negative, got %d", c.HTTP.MaxStreamBytes)
	}
	if c.Exporters.OTLP.Enabled && c.Exporters.OTLP.Endpoint == "" {
		return fmt.Errorf("exporters.otlp.endpoint required when OTLP export is enabled")
	}
	if f := c.Exporters.Stdout.Format; f != "" && f != "text" && f != "json" {
		return fmt.Errorf("invalid exporters.stdout.format %q", f)
	}
	if c.Metrics.Enabled && c.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval must be positive, got %s", c.Metrics.Interval)
	}
	return nil
}
