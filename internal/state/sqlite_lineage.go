package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

const (
	upsertTableSQL = `INSERT INTO lineage_tables (key, name, first_seen, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			first_seen = MIN(first_seen, excluded.first_seen),
			last_seen = MAX(last_seen, excluded.last_seen)`

	upsertEdgeSQL = `INSERT INTO lineage_edges
			(from_key, to_key, evidence_count, first_seen, last_seen, last_run_id, sample_query)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_key, to_key) DO UPDATE SET
			evidence_count = evidence_count + excluded.evidence_count,
			first_seen = MIN(first_seen, excluded.first_seen),
			last_seen = MAX(last_seen, excluded.last_seen),
			last_run_id = excluded.last_run_id,
			sample_query = COALESCE(excluded.sample_query, sample_query)`

	upsertColumnEdgeSQL = `INSERT INTO column_edges
			(from_table_key, from_column_key, to_table_key, to_column_key,
			 from_table, from_column, to_table, to_column, evidence_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_table_key, from_column_key, to_table_key, to_column_key) DO UPDATE SET
			evidence_count = evidence_count + excluded.evidence_count`
)

// seenRange is the observation span of one table within a graph.
type seenRange struct {
	ref         core.TableReference
	first, last time.Time
}

// SaveGraph merges a run's graph into the stored lineage in one transaction.
// Stored evidence counts are the sum of per-run counts: a statement inside the
// window overlap of consecutive runs (the current day) is counted once per run
// that saw it.
func (s *SQLiteStore) SaveGraph(ctx context.Context, runID string, g core.LineageGraph) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tables, err := tx.PrepareContext(ctx, upsertTableSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare table upsert: %w", err)
	}
	defer func() { _ = tables.Close() }()

	for _, r := range s.tableRanges(g) {
		if _, err := tables.ExecContext(ctx, r.ref.Key, r.ref.Name, formatTime(r.first), formatTime(r.last)); err != nil {
			return fmt.Errorf("failed to save table %s: %w", r.ref.Name, err)
		}
	}

	edges, err := tx.PrepareContext(ctx, upsertEdgeSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare edge upsert: %w", err)
	}
	defer func() { _ = edges.Close() }()

	for _, e := range g.Edges {
		var sample *string
		if len(e.Queries) > 0 {
			sample = &e.Queries[0]
		}
		if _, err := edges.ExecContext(ctx, e.From.Key, e.To.Key, e.EvidenceCount,
			formatTime(e.FirstSeen), formatTime(e.LastSeen), runID, sample); err != nil {
			return fmt.Errorf("failed to save edge %s -> %s: %w", e.From.Name, e.To.Name, err)
		}
	}

	if len(g.Columns) > 0 {
		cols, err := tx.PrepareContext(ctx, upsertColumnEdgeSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare column edge upsert: %w", err)
		}
		defer func() { _ = cols.Close() }()

		for _, c := range g.Columns {
			if _, err := cols.ExecContext(ctx,
				core.FoldKey(c.FromTable), core.FoldKey(c.FromColumn), core.FoldKey(c.ToTable), core.FoldKey(c.ToColumn),
				c.FromTable, c.FromColumn, c.ToTable, c.ToColumn, c.EvidenceCount); err != nil {
				return fmt.Errorf("failed to save column edge %s.%s -> %s.%s: %w",
					c.FromTable, c.FromColumn, c.ToTable, c.ToColumn, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}

	s.logger.Debug("saved lineage graph",
		slog.String("run_id", runID),
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("edges", len(g.Edges)),
		slog.Int("column_edges", len(g.Columns)))
	return nil
}

// tableRanges derives when each table was seen from the edges touching it.
// Tables only ever read have no timestamps of their own and are stamped with
// the save time.
func (s *SQLiteStore) tableRanges(g core.LineageGraph) []seenRange {
	now := s.now().UTC()
	byKey := make(map[string]*seenRange, len(g.Nodes))
	var order []string

	touch := func(ref core.TableReference, first, last time.Time) {
		r, ok := byKey[ref.Key]
		if !ok {
			byKey[ref.Key] = &seenRange{ref: ref, first: first, last: last}
			order = append(order, ref.Key)
			return
		}
		if first.Before(r.first) || r.first.IsZero() {
			r.first = first
		}
		if last.After(r.last) {
			r.last = last
		}
	}

	for _, n := range g.Nodes {
		touch(n, time.Time{}, time.Time{})
	}
	for _, e := range g.Edges {
		touch(e.From, e.FirstSeen, e.LastSeen)
		touch(e.To, e.FirstSeen, e.LastSeen)
	}

	out := make([]seenRange, 0, len(order))
	for _, key := range order {
		r := byKey[key]
		if r.first.IsZero() {
			r.first = now
		}
		if r.last.IsZero() {
			r.last = now
		}
		out = append(out, *r)
	}
	return out
}

// ListTables returns all stored tables ordered by key.
func (s *SQLiteStore) ListTables() ([]core.StoredTable, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx(),
		`SELECT key, name, first_seen, last_seen FROM lineage_tables ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []core.StoredTable
	for rows.Next() {
		var t core.StoredTable
		var first, last string
		if err := rows.Scan(&t.Key, &t.Name, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		if t.FirstSeen, err = parseTime(first); err != nil {
			return nil, err
		}
		if t.LastSeen, err = parseTime(last); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// ListEdges returns all stored edges ordered by (from key, to key).
func (s *SQLiteStore) ListEdges() ([]core.StoredEdge, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx(), `
		SELECT e.from_key, f.name, e.to_key, t.name, e.evidence_count,
		       e.first_seen, e.last_seen, e.last_run_id, COALESCE(e.sample_query, '')
		FROM lineage_edges e
		JOIN lineage_tables f ON f.key = e.from_key
		JOIN lineage_tables t ON t.key = e.to_key
		ORDER BY e.from_key, e.to_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []core.StoredEdge
	for rows.Next() {
		var e core.StoredEdge
		var first, last string
		if err := rows.Scan(&e.FromKey, &e.FromName, &e.ToKey, &e.ToName, &e.EvidenceCount,
			&first, &last, &e.LastRunID, &e.SampleQuery); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		if e.FirstSeen, err = parseTime(first); err != nil {
			return nil, err
		}
		if e.LastSeen, err = parseTime(last); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ListColumnEdges returns the column edges that read from or write to
// table. An empty table lists all of them.
func (s *SQLiteStore) ListColumnEdges(table string) ([]core.ColumnEdge, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	key := core.FoldKey(table)
	rows, err := s.db.QueryContext(ctx(), `
		SELECT from_table, from_column, to_table, to_column, evidence_count
		FROM column_edges
		WHERE ? = '' OR from_table_key = ? OR to_table_key = ?
		ORDER BY to_table_key, to_column_key, from_table_key, from_column_key`, key, key, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list column edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []core.ColumnEdge
	for rows.Next() {
		var c core.ColumnEdge
		if err := rows.Scan(&c.FromTable, &c.FromColumn, &c.ToTable, &c.ToColumn, &c.EvidenceCount); err != nil {
			return nil, fmt.Errorf("failed to scan column edge: %w", err)
		}
		edges = append(edges, c)
	}
	return edges, rows.Err()
}
