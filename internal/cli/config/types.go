// Package config provides configuration management for the querylineage CLI.
//
// Values are layered with koanf: built-in defaults, then querylineage.yaml,
// then QUERYLINEAGE_* environment variables, then explicitly set flags.
package config

import (
	"time"

	"github.com/leapstack-labs/querylineage/internal/querylog"
)

// SourceConfig is an alias for the query log source configuration.
// This allows CLI code to use config.SourceConfig without importing querylog.
type SourceConfig = querylog.Config

// ServerConfig holds configuration for the read API server.
type ServerConfig struct {
	Addr string `koanf:"addr"`
	// Refresh re-runs extract on this interval while serving. Zero disables it.
	Refresh time.Duration `koanf:"refresh"`
	// Watch re-runs extract when the file source's log changes.
	Watch bool `koanf:"watch"`
}

// Config holds all CLI configuration options.
type Config struct {
	Dialect             string       `koanf:"dialect"`
	LookbackDays        int          `koanf:"lookback_days"`
	Workers             int          `koanf:"workers"`
	QueueSize           int          `koanf:"queue_size"`
	Filter              string       `koanf:"filter"`     // starlark exclusion predicate
	LogFilter           string       `koanf:"log_filter"` // SQL predicate pushed into the log query
	ColumnLineage       bool         `koanf:"column_lineage"`
	DefaultSchemaPolicy string       `koanf:"default_schema_policy"`
	MaxQuerySamples     int          `koanf:"max_query_samples"`
	StatePath           string       `koanf:"state_path"`
	Verbose             bool         `koanf:"verbose"`
	OutputFormat        string       `koanf:"output"`
	Source              SourceConfig `koanf:"source"`
	Server              ServerConfig `koanf:"server"`

	// ConfigFile is the file the configuration was read from, if any.
	ConfigFile string `koanf:"-"`
}

// Default configuration values
const (
	DefaultDialect         = "mssql"
	DefaultLookbackDays    = 7
	DefaultSchemaPolicy    = "strip"
	DefaultMaxQuerySamples = 3
	DefaultStateFile       = ".querylineage/state.db"
	DefaultOutput          = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultSourceType      = "sql"
	DefaultServerAddr      = "127.0.0.1:8765"
)

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Dialect:             DefaultDialect,
		LookbackDays:        DefaultLookbackDays,
		DefaultSchemaPolicy: DefaultSchemaPolicy,
		MaxQuerySamples:     DefaultMaxQuerySamples,
		StatePath:           DefaultStateFile,
		OutputFormat:        DefaultOutput,
		Source:              SourceConfig{Type: DefaultSourceType},
		Server:              ServerConfig{Addr: DefaultServerAddr},
	}
}
