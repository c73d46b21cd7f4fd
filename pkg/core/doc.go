// Package core defines the shared language of the querylineage system.
//
// This package contains:
//   - Domain entities (TimeWindow, QueryLogRecord, TableReference, ParsedQuery, LineageEdge, LineageGraph)
//   - Run bookkeeping and persisted graph rows (Run, RunStats, StoredTable, StoredEdge, Store)
//   - The error taxonomy (ErrInvalidConfiguration, ErrUnparsableQuery, ErrRunNotFound)
//
// The Golden Rule: pkg/core imports only the standard library and golang.org/x/text.
// All other packages depend on core, not the reverse.
package core
