package core

import (
	"context"
	"time"
)

// Store defines the persistence operations for extracted lineage.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Run operations
	CreateRun(dialect string, window TimeWindow) (*Run, error)
	CompleteRun(id string, status RunStatus, stats RunStats, errMsg string) error
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]*Run, error)

	// Graph operations
	SaveGraph(ctx context.Context, runID string, g LineageGraph) error
	ListTables() ([]StoredTable, error)
	ListEdges() ([]StoredEdge, error)
	ListColumnEdges(table string) ([]ColumnEdge, error)
}

// RunStatus represents the status of an extraction run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents one extraction run.
type Run struct {
	ID          string
	Dialect     string
	WindowStart time.Time
	WindowEnd   time.Time
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Stats       RunStats
	Error       string
}

// RunStats counts what happened to the records of a run.
type RunStats struct {
	Read       int // records yielded by the log source
	Filtered   int // excluded by the statement filter
	Unparsable int // skipped because the parser could not handle them
	Empty      int // parsed but referenced no table
	Folded     int // folded into the aggregator
	Edges      int
	Nodes      int
}

// StoredTable is a table node persisted across runs.
type StoredTable struct {
	Key       string
	Name      string
	FirstSeen time.Time
	LastSeen  time.Time
}

// StoredEdge is a lineage edge merged across runs.
type StoredEdge struct {
	FromKey       string
	FromName      string
	ToKey         string
	ToName        string
	EvidenceCount int
	FirstSeen     time.Time
	LastSeen      time.Time
	LastRunID     string
	SampleQuery   string
}
