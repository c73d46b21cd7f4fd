package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

const runColumns = `id, dialect, window_start, window_end, status, started_at, completed_at,
	records_read, filtered, unparsable, empty, folded, edges, nodes, error`

// CreateRun records the start of an extraction run.
func (s *SQLiteStore) CreateRun(dialect string, window core.TimeWindow) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &core.Run{
		ID:          generateID(),
		Dialect:     dialect,
		WindowStart: window.Start.UTC(),
		WindowEnd:   window.End.UTC(),
		Status:      core.RunStatusRunning,
		StartedAt:   s.now().UTC(),
	}

	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("dialect", dialect))

	_, err := s.db.ExecContext(ctx(),
		`INSERT INTO runs (id, dialect, window_start, window_end, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Dialect, formatTime(run.WindowStart), formatTime(run.WindowEnd), string(run.Status), formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run as finished with the given status and counters.
func (s *SQLiteStore) CompleteRun(id string, status core.RunStatus, stats core.RunStats, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx(),
		`UPDATE runs SET status = ?, completed_at = ?, records_read = ?, filtered = ?, unparsable = ?,
			empty = ?, folded = ?, edges = ?, nodes = ?, error = ?
		WHERE id = ?`,
		string(status), formatTime(s.now()), stats.Read, stats.Filtered, stats.Unparsable,
		stats.Empty, stats.Folded, stats.Edges, stats.Nodes, nullableString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRowContext(ctx(), `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs up to the given limit.
func (s *SQLiteStore) ListRuns(limit int) ([]*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx(),
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.Run, error) {
	var (
		run                                   core.Run
		status, windowStart, windowEnd, start string
		completedAt, errMsg                   sql.NullString
	)
	err := row.Scan(&run.ID, &run.Dialect, &windowStart, &windowEnd, &status, &start, &completedAt,
		&run.Stats.Read, &run.Stats.Filtered, &run.Stats.Unparsable, &run.Stats.Empty,
		&run.Stats.Folded, &run.Stats.Edges, &run.Stats.Nodes, &errMsg)
	if err != nil {
		return nil, err
	}

	run.Status = core.RunStatus(status)
	if run.WindowStart, err = parseTime(windowStart); err != nil {
		return nil, err
	}
	if run.WindowEnd, err = parseTime(windowEnd); err != nil {
		return nil, err
	}
	if run.StartedAt, err = parseTime(start); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		run.CompletedAt = &t
	}
	run.Error = errMsg.String
	return &run, nil
}
