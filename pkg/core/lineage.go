package core

import "time"

// LineageEdge says data flowed from one table into another via observed queries.
type LineageEdge struct {
	From          TableReference
	To            TableReference
	EvidenceCount int
	FirstSeen     time.Time
	LastSeen      time.Time
	Queries       []string // bounded sample of supporting query texts
}

// EdgeKey is the deduplication key of a lineage edge.
type EdgeKey struct {
	From string
	To   string
}

// Key returns the deduplication key of the edge.
func (e LineageEdge) Key() EdgeKey {
	return EdgeKey{From: e.From.Key, To: e.To.Key}
}

// ColumnEdge is a column-level lineage edge.
type ColumnEdge struct {
	FromTable     string
	FromColumn    string
	ToTable       string
	ToColumn      string
	EvidenceCount int
}

// LineageGraph is the deduplicated result of one extraction run.
type LineageGraph struct {
	Nodes   []TableReference
	Edges   []LineageEdge
	Columns []ColumnEdge
}

// Edge returns the edge between two table keys, if present.
func (g LineageGraph) Edge(fromKey, toKey string) (LineageEdge, bool) {
	for _, e := range g.Edges {
		if e.From.Key == fromKey && e.To.Key == toKey {
			return e, true
		}
	}
	return LineageEdge{}, false
}
