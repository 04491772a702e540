// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	State      StateConfig      `mapstructure:"state"`
	Output     OutputConfig     `mapstructure:"output"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CatalogConfig identifies the catalog being harvested.
type CatalogConfig struct {
	StartURL  string `mapstructure:"start_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// FetchConfig governs the page gateway.
type FetchConfig struct {
	TimeoutSeconds   int            `mapstructure:"timeout_seconds"`
	MaxRetries       int            `mapstructure:"max_retries"`
	BackoffInitialMs int            `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int            `mapstructure:"backoff_max_ms"`
	RequestsPerSec   float64        `mapstructure:"requests_per_second"`
	Burst            int            `mapstructure:"burst"`
	Headless         HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the browser-rendering gateway.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DiscoveryConfig bounds the navigation traversal.
type DiscoveryConfig struct {
	CheckpointEvery int `mapstructure:"checkpoint_every"`
	MaxVisits       int `mapstructure:"max_visits"`
	MaxSections     int `mapstructure:"max_sections"`
}

// ExtractionConfig bounds the section extraction phase.
type ExtractionConfig struct {
	Workers         int `mapstructure:"workers"`
	MaxAttempts     int `mapstructure:"max_attempts"`
	MaxPasses       int `mapstructure:"max_passes"`
	CheckpointEvery int `mapstructure:"checkpoint_every"`
}

// StateConfig sets where traversal state is checkpointed.
type StateConfig struct {
	CheckpointPath string `mapstructure:"checkpoint_path"`
}

// OutputConfig sets where terminal records land.
type OutputConfig struct {
	Path     string         `mapstructure:"path"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig mirrors records into a relational table when enabled.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.start_url", "https://govt.westlaw.com/calregs/Browse/Home/California/CaliforniaCodeofRegulations")
	v.SetDefault("catalog.user_agent", "calregs-harvester/0.1")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 5000)
	v.SetDefault("fetch.requests_per_second", 2.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.headless.enabled", false)
	v.SetDefault("fetch.headless.max_parallel", 2)
	v.SetDefault("fetch.headless.nav_timeout_seconds", 45)
	v.SetDefault("discovery.checkpoint_every", 25)
	v.SetDefault("discovery.max_visits", 0)
	v.SetDefault("discovery.max_sections", 0)
	v.SetDefault("extraction.workers", 4)
	v.SetDefault("extraction.max_attempts", 3)
	v.SetDefault("extraction.max_passes", 3)
	v.SetDefault("extraction.checkpoint_every", 50)
	v.SetDefault("state.checkpoint_path", "data/checkpoint.json")
	v.SetDefault("output.path", "data/sections.jsonl")
	v.SetDefault("output.postgres.enabled", false)
	v.SetDefault("output.postgres.table", "section_records")
	v.SetDefault("output.postgres.max_conns", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Catalog.StartURL == "" {
		return fmt.Errorf("catalog.start_url must be set")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.RequestsPerSec < 0 {
		return fmt.Errorf("fetch.requests_per_second must be >= 0")
	}
	if c.Fetch.Headless.Enabled && c.Fetch.Headless.MaxParallel <= 0 {
		return fmt.Errorf("fetch.headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Extraction.Workers <= 0 {
		return fmt.Errorf("extraction.workers must be > 0")
	}
	if c.Extraction.MaxAttempts <= 0 {
		return fmt.Errorf("extraction.max_attempts must be > 0")
	}
	if c.State.CheckpointPath == "" {
		return fmt.Errorf("state.checkpoint_path must be set")
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output.path must be set")
	}
	if c.Output.Postgres.Enabled && c.Output.Postgres.DSN == "" {
		return fmt.Errorf("output.postgres.dsn must be set when postgres output is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// FetchTimeout converts the fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// BackoffInitial converts the initial backoff into a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Fetch.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the backoff cap into a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Fetch.BackoffMaxMs) * time.Millisecond
}
