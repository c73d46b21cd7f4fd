// Package dag builds table-level lineage graphs and walks them.
//
// Lineage mined from query logs is not guaranteed to be acyclic (a table can
// be rebuilt from a staging copy of itself), so every traversal tracks the
// nodes it has visited.
package dag

import (
	"fmt"
	"slices"
	"sort"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// Node is a table in the graph.
type Node struct {
	// Key is the case-folded table name
	Key string
	// Name is the display name
	Name string
}

// Edge is a directed data flow from one table into another.
type Edge struct {
	From          string
	To            string
	EvidenceCount int
}

// Hop is a node reached by a traversal, at its shortest distance from the start.
type Hop struct {
	Node
	Depth int
}

// Graph is a directed graph of tables.
type Graph struct {
	nodes    map[string]*Node
	children map[string][]string // upstream -> downstream
	parents  map[string][]string // downstream -> upstream
	evidence map[core.EdgeKey]int
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
		evidence: make(map[core.EdgeKey]int),
	}
}

// FromStored builds a graph from persisted tables and edges.
func FromStored(tables []core.StoredTable, edges []core.StoredEdge) *Graph {
	g := NewGraph()
	for _, t := range tables {
		g.AddNode(t.Key, t.Name)
	}
	for _, e := range edges {
		g.AddNode(e.FromKey, e.FromName)
		g.AddNode(e.ToKey, e.ToName)
		_ = g.AddEdge(e.FromKey, e.ToKey, e.EvidenceCount)
	}
	return g
}

// FromLineage builds a graph from the result of one extraction run.
func FromLineage(lg core.LineageGraph) *Graph {
	g := NewGraph()
	for _, n := range lg.Nodes {
		g.AddNode(n.Key, n.Name)
	}
	for _, e := range lg.Edges {
		g.AddNode(e.From.Key, e.From.Name)
		g.AddNode(e.To.Key, e.To.Name)
		_ = g.AddEdge(e.From.Key, e.To.Key, e.EvidenceCount)
	}
	return g
}

// AddNode adds a node to the graph. The first name given for a key is kept.
func (g *Graph) AddNode(key, name string) {
	if _, exists := g.nodes[key]; exists {
		return
	}
	g.nodes[key] = &Node{Key: key, Name: name}
}

// AddEdge adds a directed edge from upstream to downstream. Adding an
// existing edge again accumulates its evidence.
func (g *Graph) AddEdge(from, to string, evidence int) error {
	if _, exists := g.nodes[from]; !exists {
		return fmt.Errorf("node %q does not exist", from)
	}
	if _, exists := g.nodes[to]; !exists {
		return fmt.Errorf("node %q does not exist", to)
	}
	if from == to {
		return fmt.Errorf("self-loop detected: %s", from)
	}

	key := core.EdgeKey{From: from, To: to}
	if _, exists := g.evidence[key]; !exists {
		g.children[from] = append(g.children[from], to)
		g.parents[to] = append(g.parents[to], from)
	}
	g.evidence[key] += evidence
	return nil
}

// Node returns a node by key.
func (g *Graph) Node(key string) (*Node, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

// Lookup finds a node by display name or key, ignoring case.
func (g *Graph) Lookup(name string) (*Node, bool) {
	return g.Node(core.FoldKey(name))
}

// Parents returns the direct upstream tables of a node (sorted).
func (g *Graph) Parents(key string) []string {
	return sorted(g.parents[key])
}

// Children returns the direct downstream tables of a node (sorted).
func (g *Graph) Children(key string) []string {
	return sorted(g.children[key])
}

// Nodes returns all nodes sorted by key.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })
	return nodes
}

// Edges returns all edges sorted by (from, to).
func (g *Graph) Edges() []Edge {
	edges := make([]Edge, 0, len(g.evidence))
	for k, n := range g.evidence {
		edges = append(edges, Edge{From: k.From, To: k.To, EvidenceCount: n})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.evidence)
}

// Upstream returns the tables key reads from, directly or transitively,
// up to maxDepth hops (0 means unlimited).
func (g *Graph) Upstream(key string, maxDepth int) []Hop {
	return g.walk(key, maxDepth, g.parents)
}

// Downstream returns the tables fed by key, directly or transitively,
// up to maxDepth hops (0 means unlimited).
func (g *Graph) Downstream(key string, maxDepth int) []Hop {
	return g.walk(key, maxDepth, g.children)
}

// walk is a breadth-first search, so each node is reported at its shortest
// distance. Results are ordered by depth, then key.
func (g *Graph) walk(start string, maxDepth int, next map[string][]string) []Hop {
	if _, ok := g.nodes[start]; !ok {
		return nil
	}

	visited := map[string]bool{start: true}
	frontier := []string{start}
	var hops []Hop

	for depth := 1; len(frontier) > 0 && (maxDepth <= 0 || depth <= maxDepth); depth++ {
		var level []string
		for _, key := range frontier {
			for _, n := range next[key] {
				if visited[n] {
					continue
				}
				visited[n] = true
				level = append(level, n)
			}
		}
		sort.Strings(level)
		for _, key := range level {
			hops = append(hops, Hop{Node: *g.nodes[key], Depth: depth})
		}
		frontier = level
	}
	return hops
}

// HasCycle returns true if the graph contains a cycle, along with the cycle path.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(key string) bool
	dfs = func(key string) bool {
		visited[key] = true
		onStack[key] = true

		for _, child := range g.Children(key) {
			if !visited[child] {
				path[child] = key
				if dfs(child) {
					return true
				}
			} else if onStack[child] {
				cyclePath = []string{child}
				for curr := key; curr != child; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{child}, cyclePath...)
				return true
			}
		}

		onStack[key] = false
		return false
	}

	for _, n := range g.Nodes() {
		if !visited[n.Key] && dfs(n.Key) {
			return true, cyclePath
		}
	}
	return false, nil
}

// Roots returns tables nothing is observed writing into.
func (g *Graph) Roots() []string {
	var roots []string
	for key := range g.nodes {
		if len(g.parents[key]) == 0 {
			roots = append(roots, key)
		}
	}
	sort.Strings(roots)
	return roots
}

// Leaves returns tables never observed feeding another table.
func (g *Graph) Leaves() []string {
	var leaves []string
	for key := range g.nodes {
		if len(g.children[key]) == 0 {
			leaves = append(leaves, key)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// Subgraph returns a new graph containing only the given nodes and the
// edges between them.
func (g *Graph) Subgraph(keys []string) *Graph {
	sub := NewGraph()
	for _, key := range keys {
		if n, ok := g.nodes[key]; ok {
			sub.AddNode(n.Key, n.Name)
		}
	}
	for k, n := range g.evidence {
		if _, ok := sub.nodes[k.From]; !ok {
			continue
		}
		if _, ok := sub.nodes[k.To]; !ok {
			continue
		}
		_ = sub.AddEdge(k.From, k.To, n)
	}
	return sub
}

func sorted(keys []string) []string {
	out := slices.Clone(keys)
	sort.Strings(out)
	return out
}
