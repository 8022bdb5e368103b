// Package config handles TOML configuration for autodiag.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yairfalse/autodiag/internal/collector"
	"github.com/yairfalse/autodiag/internal/emitter"
	"github.com/yairfalse/autodiag/internal/filter"
)

// Source backends.
const (
	SourceAzure    = "azure"
	SourceSnapshot = "snapshot"
)

// Config is the root configuration structure.
type Config struct {
	Azure   AzureConfig   `toml:"azure"`
	Collect CollectConfig `toml:"collect"`
	OTEL    OTELConfig    `toml:"otel"`
	Metrics ServerConfig  `toml:"metrics"`
	History HistoryConfig `toml:"history"`
	Log     LogConfig     `toml:"log"`
}

// AzureConfig selects where accounts are read from.
type AzureConfig struct {
	SubscriptionID string `toml:"subscription_id"`
	Source         string `toml:"source"`
	Snapshot       string `toml:"snapshot"`
}

// CollectConfig holds collection scope and pool sizes.
type CollectConfig struct {
	Accounts               []string `toml:"accounts"`
	Runbooks               []string `toml:"runbooks"`
	JobIDs                 []string `toml:"job_ids"`
	IncludeAllStreamValues bool     `toml:"include_all_stream_values"`
	JobWindow              int      `toml:"job_window"`

	AccountConcurrency int `toml:"account_concurrency"`
	AssetConcurrency   int `toml:"asset_concurrency"`
	StreamConcurrency  int `toml:"stream_concurrency"`

	TimeoutStr string `toml:"timeout"`
	Timeout    time.Duration

	OutputDir string   `toml:"output_dir"`
	Formats   []string `toml:"formats"`
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
}

// ServerConfig holds the Prometheus endpoint. An empty address disables it.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// HistoryConfig holds the run history database location.
type HistoryConfig struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, toml.MetaData{})
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse config: unknown key %q", undecoded[0].String())
	}

	applyDefaults(cfg, md)

	if err := parseTimeout(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config, md toml.MetaData) {
	if cfg.Azure.Source == "" {
		cfg.Azure.Source = SourceAzure
	}
	// an explicit job_window = 0 is left for Validate to reject
	if cfg.Collect.JobWindow == 0 && !md.IsDefined("collect", "job_window") {
		cfg.Collect.JobWindow = filter.DefaultJobWindow
	}
	if cfg.Collect.AccountConcurrency == 0 {
		cfg.Collect.AccountConcurrency = collector.DefaultAccountConcurrency
	}
	if cfg.Collect.AssetConcurrency == 0 {
		cfg.Collect.AssetConcurrency = collector.DefaultAssetConcurrency
	}
	if cfg.Collect.StreamConcurrency == 0 {
		cfg.Collect.StreamConcurrency = collector.DefaultStreamConcurrency
	}
	if cfg.Collect.OutputDir == "" {
		cfg.Collect.OutputDir = "autodiag-results"
	}
	if len(cfg.Collect.Formats) == 0 {
		for _, f := range emitter.AllFormats() {
			cfg.Collect.Formats = append(cfg.Collect.Formats, string(f))
		}
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "autodiag"
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfg.Collect.OutputDir, "history.db")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func parseTimeout(cfg *Config) error {
	if cfg.Collect.TimeoutStr == "" {
		return nil
	}
	d, err := time.ParseDuration(cfg.Collect.TimeoutStr)
	if err != nil {
		return fmt.Errorf("parse timeout %q: %w", cfg.Collect.TimeoutStr, err)
	}
	cfg.Collect.Timeout = d
	return nil
}

// OutputFormats returns the configured formats.
func (c *Config) OutputFormats() []emitter.Format {
	out := make([]emitter.Format, 0, len(c.Collect.Formats))
	for _, f := range c.Collect.Formats {
		out = append(out, emitter.Format(f))
	}
	return out
}

// FilterOptions maps the collect section onto filter options.
func (c *Config) FilterOptions() filter.Options {
	return filter.Options{
		AccountNames:           c.Collect.Accounts,
		RunbookNames:           c.Collect.Runbooks,
		JobIDs:                 c.Collect.JobIDs,
		IncludeAllStreamValues: c.Collect.IncludeAllStreamValues,
		JobWindow:              c.Collect.JobWindow,
	}
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	switch c.Azure.Source {
	case SourceAzure:
		if c.Azure.SubscriptionID == "" {
			return fmt.Errorf("azure: subscription_id required for the azure source")
		}
	case SourceSnapshot:
		if c.Azure.Snapshot == "" {
			return fmt.Errorf("azure: snapshot path required for the snapshot source")
		}
	default:
		return fmt.Errorf("azure: unknown source %q", c.Azure.Source)
	}

	if c.Collect.JobWindow < 1 {
		return fmt.Errorf("collect: %w (got %d)", filter.ErrInvalidWindow, c.Collect.JobWindow)
	}
	for name, v := range map[string]int{
		"account_concurrency": c.Collect.AccountConcurrency,
		"asset_concurrency":   c.Collect.AssetConcurrency,
		"stream_concurrency":  c.Collect.StreamConcurrency,
	} {
		if v < 1 {
			return fmt.Errorf("collect: %s must be at least 1 (got %d)", name, v)
		}
	}
	if c.Collect.Timeout < 0 {
		return fmt.Errorf("collect: timeout must not be negative")
	}
	for _, f := range c.Collect.Formats {
		switch emitter.Format(f) {
		case emitter.FormatText, emitter.FormatCSV, emitter.FormatJSON:
		default:
			return fmt.Errorf("collect: unknown format %q", f)
		}
	}

	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log: format must be console or json (got %q)", c.Log.Format)
	}
	return nil
}
