// Package querylog reads executed SQL statements from a query log.
//
// A Source yields the records of one time window lazily, as an iter.Seq2, so
// a run never holds the whole log in memory. Three implementations exist:
//
//   - SQLSource runs the dialect's log query against a live database
//     (PostgreSQL via pgx, DuckDB, SQLite).
//   - FileSource reads exported logs as JSON lines or YAML documents.
//   - SliceSource serves records from memory, for tests and embedding.
//
// Sources are built from configuration through a registry keyed by
// source type, in the same way dialects are registered.
package querylog

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/querylineage/pkg/core"
	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

// Source yields the query log records executed inside a time window.
//
// Records is lazy: nothing is read until the sequence is iterated. A read
// failure is yielded once as a non-nil error, after which the sequence ends.
type Source interface {
	Records(ctx context.Context, w core.TimeWindow) iter.Seq2[core.QueryLogRecord, error]
}

// Config selects and configures a source.
type Config struct {
	Type   string `koanf:"type"`   // sql | file
	Driver string `koanf:"driver"` // sql: pgx, duckdb, sqlite
	DSN    string `koanf:"dsn"`    // sql: connection string
	Query  string `koanf:"query"`  // sql: overrides the dialect's log query
	Path   string `koanf:"path"`   // file: log path; duckdb: file read by the log query
	Format string `koanf:"format"` // file: jsonl | yaml, detected from the extension when empty
}

// Factory builds a source from configuration.
type Factory func(cfg Config, d *dialect.Dialect, logger *slog.Logger) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a source factory to the registry.
func Register(typ string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typ] = f
}

// Types returns all registered source types (sorted).
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the source described by cfg. Configuration problems are
// reported as core.ErrInvalidConfiguration. Sources holding resources
// implement io.Closer.
func New(cfg Config, d *dialect.Dialect, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if d == nil {
		return nil, core.InvalidConfigf("%v", dialect.ErrDialectRequired)
	}
	if cfg.Type == "" {
		return nil, core.InvalidConfigf("source type not specified (available: %v)", Types())
	}

	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownSourceError{Type: cfg.Type, Available: Types()}
	}
	return f(cfg, d, logger)
}

// UnknownSourceError is returned when an unknown source type is requested.
type UnknownSourceError struct {
	Type      string
	Available []string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source type %q (available: %v)", e.Type, e.Available)
}

// Unwrap makes errors.Is(err, core.ErrInvalidConfiguration) hold.
func (e *UnknownSourceError) Unwrap() error {
	return core.ErrInvalidConfiguration
}

func init() {
	Register("sql", newSQLSourceFromConfig)
	Register("file", newFileSourceFromConfig)
}
