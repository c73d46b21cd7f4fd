// Package state persists extracted lineage in SQLite.
//
// Every extraction run is recorded with its window and counters. Graphs
// saved by successive runs are merged: tables and edges are upserted by key,
// evidence counts are summed and last_seen keeps the latest observation.
package state

import (
	"time"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// Store is the persistence contract implemented by SQLiteStore.
type Store = core.Store

var _ Store = (*SQLiteStore)(nil)

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
