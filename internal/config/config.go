// Package config handles TOML configuration for benchctx.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// Config is the root configuration structure.
type Config struct {
	OTEL  OTELConfig  `toml:"otel"`
	Log   LogConfig   `toml:"log"`
	State StateConfig `toml:"state"`
	Audit AuditConfig `toml:"audit"`
	Run   RunConfig   `toml:"run"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	// Prometheus registers a pull exporter in addition to OTLP.
	Prometheus bool `toml:"prometheus"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// StateConfig holds the run state store settings.
type StateConfig struct {
	Path string `toml:"path"`
}

// AuditConfig holds audit journal settings.
type AuditConfig struct {
	Enabled      bool   `toml:"enabled"`
	Dir          string `toml:"dir"`
	RetentionStr string `toml:"retention"`
	Retention    time.Duration
}

// RunConfig holds settings for the run command.
type RunConfig struct {
	CleanupTimeoutStr string `toml:"cleanup_timeout"`
	CleanupTimeout    time.Duration
	MetricsAddr       string `toml:"metrics_addr"`
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := parseDurations(cfg); err != nil {
		panic(err)
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "benchctx"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = ".benchctx/state.db"
	}
	if cfg.Audit.Dir == "" {
		cfg.Audit.Dir = ".benchctx/audit"
	}
	if cfg.Audit.RetentionStr == "" {
		cfg.Audit.RetentionStr = "720h"
	}
	if cfg.Run.CleanupTimeoutStr == "" {
		cfg.Run.CleanupTimeoutStr = "10m"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Audit.RetentionStr)
	if err != nil {
		return fmt.Errorf("parse audit retention %q: %w", cfg.Audit.RetentionStr, err)
	}
	cfg.Audit.Retention = d

	d, err = time.ParseDuration(cfg.Run.CleanupTimeoutStr)
	if err != nil {
		return fmt.Errorf("parse cleanup timeout %q: %w", cfg.Run.CleanupTimeoutStr, err)
	}
	cfg.Run.CleanupTimeout = d
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log: format must be console or json (got %q)", c.Log.Format)
	}
	if c.Run.CleanupTimeout <= 0 {
		return fmt.Errorf("run: cleanup_timeout must be positive")
	}
	return nil
}
