package querylog

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/querylineage/pkg/core"
	"github.com/leapstack-labs/querylineage/pkg/dialect"
)

// PathMarker is replaced in a log query by the quoted source path, for
// dialects whose log is read from files (DuckDB's read_json_auto).
const PathMarker = "{{path}}"

// SQLSource reads the query log with a SQL query over database/sql.
//
// The query's first column is the statement text and its second the
// execution time; remaining columns become record metadata keyed by column
// name. The window start and end are bound as its two parameters.
type SQLSource struct {
	DB      *sql.DB
	Query   string
	Dialect string
	Logger  *slog.Logger

	owned bool
}

// NewSQLSource creates a source over an existing connection. The caller
// keeps ownership of db.
func NewSQLSource(db *sql.DB, d *dialect.Dialect, query string, logger *slog.Logger) (*SQLSource, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if d == nil {
		return nil, core.InvalidConfigf("%v", dialect.ErrDialectRequired)
	}
	if strings.TrimSpace(query) == "" {
		return nil, core.InvalidConfigf("dialect %s has no log query; set source.query", d.Name)
	}
	return &SQLSource{DB: db, Query: query, Dialect: d.Name, Logger: logger}, nil
}

func newSQLSourceFromConfig(cfg Config, d *dialect.Dialect, logger *slog.Logger) (Source, error) {
	query, err := LogQuery(cfg, d)
	if err != nil {
		return nil, err
	}
	driver, err := resolveDriver(cfg.Driver, d.Name)
	if err != nil {
		return nil, err
	}

	db, err := openDB(context.Background(), driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	src := &SQLSource{DB: db, Query: query, Dialect: d.Name, Logger: logger, owned: true}
	logger.Debug("opened query log connection", slog.String("driver", driver), slog.String("dialect", d.Name))
	return src, nil
}

// LogQuery resolves the query a SQL source runs: the configured override or
// the dialect's log query, with the push-down filter and path markers
// replaced.
func LogQuery(cfg Config, d *dialect.Dialect) (string, error) {
	query := d.RenderLogQuery()
	if strings.TrimSpace(cfg.Query) != "" {
		query = dialect.RenderQuery(strings.TrimSpace(cfg.Query), d.LogFilter)
	}
	if query == "" {
		return "", core.InvalidConfigf("dialect %s has no log query; set source.query", d.Name)
	}
	if strings.Contains(query, PathMarker) {
		if cfg.Path == "" {
			return "", core.InvalidConfigf("log query for dialect %s reads a file; set source.path", d.Name)
		}
		query = strings.ReplaceAll(query, PathMarker, strings.ReplaceAll(cfg.Path, "'", "''"))
	}
	return query, nil
}

// Close closes the connection if the source opened it.
func (s *SQLSource) Close() error {
	if s.owned && s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// Records runs the log query for w. Rows are scanned as the sequence is
// consumed and released when the consumer stops.
func (s *SQLSource) Records(ctx context.Context, w core.TimeWindow) iter.Seq2[core.QueryLogRecord, error] {
	return func(yield func(core.QueryLogRecord, error) bool) {
		rows, err := s.DB.QueryContext(ctx, s.Query, w.Start, w.End)
		if err != nil {
			yield(core.QueryLogRecord{}, fmt.Errorf("failed to query log: %w", err))
			return
		}
		defer func() { _ = rows.Close() }()

		cols, err := rows.Columns()
		if err != nil {
			yield(core.QueryLogRecord{}, fmt.Errorf("failed to get columns: %w", err))
			return
		}
		if len(cols) < 2 {
			yield(core.QueryLogRecord{}, core.InvalidConfigf("log query must return text and execution time, got %d column(s)", len(cols)))
			return
		}

		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}

		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				yield(core.QueryLogRecord{}, fmt.Errorf("failed to scan log row: %w", err))
				return
			}
			rec, ok := s.toRecord(cols, values)
			if !ok {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(core.QueryLogRecord{}, fmt.Errorf("failed to read log rows: %w", err))
		}
	}
}

// toRecord converts one scanned row. Rows without statement text or with an
// unreadable timestamp are skipped.
func (s *SQLSource) toRecord(cols []string, values []any) (core.QueryLogRecord, bool) {
	text, ok := asString(values[0])
	if !ok || strings.TrimSpace(text) == "" {
		return core.QueryLogRecord{}, false
	}
	executedAt, err := asTime(values[1])
	if err != nil {
		s.Logger.Debug("skipping log row", slog.String("reason", err.Error()))
		return core.QueryLogRecord{}, false
	}

	rec := core.QueryLogRecord{Text: text, ExecutedAt: executedAt, Dialect: s.Dialect}
	if len(cols) > 2 {
		rec.Metadata = make(map[string]any, len(cols)-2)
		for i := 2; i < len(cols); i++ {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec.Metadata[cols[i]] = v
		}
	}
	return rec, true
}
