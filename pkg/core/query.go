package core

import (
	"sort"
	"time"

	"golang.org/x/text/cases"
)

// TimeWindow is the half-open interval [Start, End) scanned by one extraction run.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside [Start, End).
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Days returns the number of whole days covered by the window.
func (w TimeWindow) Days() int {
	return int(w.End.Sub(w.Start) / (24 * time.Hour))
}

// QueryLogRecord is a single executed statement read from a query log.
type QueryLogRecord struct {
	Text       string
	ExecutedAt time.Time
	Dialect    string
	Metadata   map[string]any
}

// TableReference names a table after dialect decoration has been stripped.
// Name keeps the casing of the first observation; Key is the case-folded
// comparison form. Two references denote the same table iff their keys are equal.
type TableReference struct {
	Name string
	Key  string
}

// NewTableReference builds a reference from an already-normalized name.
func NewTableReference(name string) TableReference {
	return TableReference{Name: name, Key: FoldKey(name)}
}

// String returns the display name.
func (r TableReference) String() string {
	return r.Name
}

// IsZero reports whether the reference is empty.
func (r TableReference) IsZero() bool {
	return r.Key == ""
}

// FoldKey returns the case-insensitive comparison key for an identifier.
// A Caser is stateful, so a fresh one is used per call.
func FoldKey(name string) string {
	return cases.Fold().String(name)
}

// StatementKind classifies a SQL statement.
type StatementKind string

// Statement kinds recognized by the parser.
const (
	KindSelect        StatementKind = "SELECT"
	KindInsert        StatementKind = "INSERT"
	KindUpdate        StatementKind = "UPDATE"
	KindDelete        StatementKind = "DELETE"
	KindMerge         StatementKind = "MERGE"
	KindCreateTableAs StatementKind = "CREATE_TABLE_AS"
	KindCreateView    StatementKind = "CREATE_VIEW"
	KindCopy          StatementKind = "COPY"
	KindOther         StatementKind = "OTHER"
)

// SourceColumn is a column read from a source table.
type SourceColumn struct {
	Table  string `json:"table,omitempty"` // normalized table name, empty when unresolved
	Column string `json:"column"`
}

// ColumnLineage maps one written column to the columns feeding it.
type ColumnLineage struct {
	Target  string         `json:"target"`
	Sources []SourceColumn `json:"sources"`
}

// ParsedQuery is the reference set extracted from one statement.
type ParsedQuery struct {
	Kind    StatementKind
	Sources []TableReference // set semantics, sorted by key
	Target  *TableReference
	Columns []ColumnLineage
}

// HasLineage reports whether the query can contribute at least one edge.
func (q *ParsedQuery) HasLineage() bool {
	return q != nil && q.Target != nil && len(q.Sources) > 0
}

// IsEmpty reports whether no table was recognized at all (e.g. SELECT 1).
func (q *ParsedQuery) IsEmpty() bool {
	return q == nil || (q.Target == nil && len(q.Sources) == 0)
}

// TableSet accumulates table references with set semantics, keeping the
// first-seen display name for each key.
type TableSet struct {
	byKey map[string]TableReference
}

// NewTableSet creates an empty set.
func NewTableSet() *TableSet {
	return &TableSet{byKey: make(map[string]TableReference)}
}

// Add inserts ref unless a reference with the same key is present.
func (s *TableSet) Add(ref TableReference) {
	if ref.IsZero() {
		return
	}
	if _, ok := s.byKey[ref.Key]; !ok {
		s.byKey[ref.Key] = ref
	}
}

// Len returns the number of distinct tables.
func (s *TableSet) Len() int {
	return len(s.byKey)
}

// Sorted returns the references ordered by key.
func (s *TableSet) Sorted() []TableReference {
	refs := make([]TableReference, 0, len(s.byKey))
	for _, r := range s.byKey {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs
}
