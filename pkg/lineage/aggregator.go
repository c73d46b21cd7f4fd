// Package lineage folds parsed queries into a deduplicated lineage graph.
//
// An Aggregator is fed one ParsedQuery at a time. Every table a query mentions
// becomes a node; every (source, target) pair of a writing query becomes an
// edge whose evidence count grows with each query that supports it. Edges are
// keyed by the case-folded names of their endpoints, so [dbo].[Orders] and
// dbo.orders feed the same edge, displayed with the first-seen casing.
package lineage

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// DefaultMaxQuerySamples is the number of query texts kept per edge.
const DefaultMaxQuerySamples = 3

// Options configures an Aggregator.
type Options struct {
	// MaxQuerySamples bounds the distinct query texts kept as evidence per
	// edge. Zero means DefaultMaxQuerySamples; negative disables sampling.
	MaxQuerySamples int
}

type columnKey struct {
	fromTable, fromColumn, toTable, toColumn string
}

// Aggregator accumulates lineage edges. Fold and Snapshot are safe for
// concurrent use, though the engine folds from a single goroutine.
type Aggregator struct {
	mu      sync.Mutex
	samples int

	nodes   map[string]core.TableReference
	edges   map[core.EdgeKey]*core.LineageEdge
	columns map[columnKey]*core.ColumnEdge
	folded  int
}

// NewAggregator creates an empty aggregator.
func NewAggregator(opts Options) *Aggregator {
	samples := opts.MaxQuerySamples
	switch {
	case samples == 0:
		samples = DefaultMaxQuerySamples
	case samples < 0:
		samples = 0
	}
	return &Aggregator{
		samples: samples,
		nodes:   make(map[string]core.TableReference),
		edges:   make(map[core.EdgeKey]*core.LineageEdge),
		columns: make(map[columnKey]*core.ColumnEdge),
	}
}

// Fold adds the references of one parsed query. observedAt is the execution
// time of the query and queryText its SQL, kept as a bounded evidence sample.
//
// Reads register nodes only. Self-edges (a table feeding itself, as in
// UPDATE t SET a = a + 1 FROM t) are dropped.
func (a *Aggregator) Fold(q *core.ParsedQuery, observedAt time.Time, queryText string) {
	if q == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.folded++
	for _, s := range q.Sources {
		a.addNode(s)
	}
	if q.Target == nil || q.Target.IsZero() {
		return
	}
	target := a.addNode(*q.Target)

	for _, s := range q.Sources {
		if s.Key == target.Key {
			continue
		}
		a.addEdge(a.nodes[s.Key], target, observedAt, queryText)
	}

	for _, cl := range q.Columns {
		for _, src := range cl.Sources {
			a.addColumnEdge(src, target, cl.Target)
		}
	}
}

func (a *Aggregator) addNode(ref core.TableReference) core.TableReference {
	if existing, ok := a.nodes[ref.Key]; ok {
		return existing
	}
	a.nodes[ref.Key] = ref
	return ref
}

func (a *Aggregator) addEdge(from, to core.TableReference, observedAt time.Time, queryText string) {
	key := core.EdgeKey{From: from.Key, To: to.Key}
	e, ok := a.edges[key]
	if !ok {
		e = &core.LineageEdge{From: from, To: to, FirstSeen: observedAt, LastSeen: observedAt}
		a.edges[key] = e
	}

	e.EvidenceCount++
	if observedAt.After(e.LastSeen) {
		e.LastSeen = observedAt
	}
	if observedAt.Before(e.FirstSeen) {
		e.FirstSeen = observedAt
	}
	if queryText != "" && len(e.Queries) < a.samples && !slices.Contains(e.Queries, queryText) {
		e.Queries = append(e.Queries, queryText)
	}
}

// addColumnEdge records a column-level edge. Sources whose table could not be
// resolved carry no lineage and are skipped.
func (a *Aggregator) addColumnEdge(src core.SourceColumn, target core.TableReference, toColumn string) {
	if src.Table == "" || src.Column == "" || toColumn == "" {
		return
	}
	fromTable := core.FoldKey(src.Table)
	key := columnKey{
		fromTable:  fromTable,
		fromColumn: core.FoldKey(src.Column),
		toTable:    target.Key,
		toColumn:   core.FoldKey(toColumn),
	}
	if key.fromTable == key.toTable && key.fromColumn == key.toColumn {
		return
	}

	ce, ok := a.columns[key]
	if !ok {
		fromName := src.Table
		if n, known := a.nodes[fromTable]; known {
			fromName = n.Name
		}
		ce = &core.ColumnEdge{
			FromTable:  fromName,
			FromColumn: src.Column,
			ToTable:    target.Name,
			ToColumn:   toColumn,
		}
		a.columns[key] = ce
	}
	ce.EvidenceCount++
}

// Folded returns the number of queries folded so far.
func (a *Aggregator) Folded() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.folded
}

// Snapshot returns a deep copy of the current graph, sorted deterministically:
// nodes by key, edges by (from key, to key), column edges by their endpoints.
// The lock is held only while copying; sorting happens on the copy.
func (a *Aggregator) Snapshot() core.LineageGraph {
	a.mu.Lock()
	g := core.LineageGraph{
		Nodes:   make([]core.TableReference, 0, len(a.nodes)),
		Edges:   make([]core.LineageEdge, 0, len(a.edges)),
		Columns: make([]core.ColumnEdge, 0, len(a.columns)),
	}
	for _, n := range a.nodes {
		g.Nodes = append(g.Nodes, n)
	}
	for _, e := range a.edges {
		cp := *e
		cp.Queries = append([]string(nil), e.Queries...)
		g.Edges = append(g.Edges, cp)
	}
	for _, c := range a.columns {
		g.Columns = append(g.Columns, *c)
	}
	a.mu.Unlock()

	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].Key < g.Nodes[j].Key })
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From.Key != g.Edges[j].From.Key {
			return g.Edges[i].From.Key < g.Edges[j].From.Key
		}
		return g.Edges[i].To.Key < g.Edges[j].To.Key
	})
	sort.Slice(g.Columns, func(i, j int) bool {
		ci, cj := g.Columns[i], g.Columns[j]
		ki := [4]string{core.FoldKey(ci.FromTable), core.FoldKey(ci.FromColumn), core.FoldKey(ci.ToTable), core.FoldKey(ci.ToColumn)}
		kj := [4]string{core.FoldKey(cj.FromTable), core.FoldKey(cj.FromColumn), core.FoldKey(cj.ToTable), core.FoldKey(cj.ToColumn)}
		for n := range ki {
			if ki[n] != kj[n] {
				return ki[n] < kj[n]
			}
		}
		return false
	})
	return g
}
