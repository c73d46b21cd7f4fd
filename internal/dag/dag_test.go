package dag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// buildGraph creates raw.orders -> stg.orders -> mart.sales <- stg.customers <- raw.customers,
// plus mart.sales -> report.daily.
func buildGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	for _, key := range []string{"raw.orders", "stg.orders", "mart.sales", "stg.customers", "raw.customers", "report.daily"} {
		g.AddNode(key, key)
	}
	for _, e := range [][2]string{
		{"raw.orders", "stg.orders"},
		{"stg.orders", "mart.sales"},
		{"raw.customers", "stg.customers"},
		{"stg.customers", "mart.sales"},
		{"mart.sales", "report.daily"},
	} {
		require.NoError(t, g.AddEdge(e[0], e[1], 1))
	}
	return g
}

func hopKeys(hops []Hop) []string {
	keys := make([]string, len(hops))
	for i, h := range hops {
		keys[i] = h.Key
	}
	return keys
}

func TestGraph_AddNodeAndEdge(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", "A")
	g.AddNode("b", "B")
	g.AddNode("a", "ignored")

	assert.Equal(t, 2, g.NodeCount())
	n, ok := g.Node("a")
	require.True(t, ok)
	assert.Equal(t, "A", n.Name)

	require.NoError(t, g.AddEdge("a", "b", 2))
	require.NoError(t, g.AddEdge("a", "b", 3))
	assert.Equal(t, 1, g.EdgeCount())
	assert.Equal(t, []Edge{{From: "a", To: "b", EvidenceCount: 5}}, g.Edges())
}

func TestGraph_AddEdge_Errors(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", "a")

	tests := []struct {
		name     string
		from, to string
	}{
		{"missing child", "a", "nonexistent"},
		{"missing parent", "nonexistent", "a"},
		{"self loop", "a", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, g.AddEdge(tt.from, tt.to, 1))
		})
	}
}

func TestGraph_ParentsAndChildren(t *testing.T) {
	g := buildGraph(t)

	assert.Equal(t, []string{"stg.customers", "stg.orders"}, g.Parents("mart.sales"))
	assert.Equal(t, []string{"report.daily"}, g.Children("mart.sales"))
	assert.Empty(t, g.Parents("raw.orders"))
	assert.Empty(t, g.Children("unknown"))
}

func TestGraph_Traversal(t *testing.T) {
	g := buildGraph(t)

	tests := []struct {
		name  string
		walk  func(key string, depth int) []Hop
		start string
		depth int
		want  []string
	}{
		{"upstream unlimited", g.Upstream, "mart.sales", 0, []string{"stg.customers", "stg.orders", "raw.customers", "raw.orders"}},
		{"upstream one hop", g.Upstream, "mart.sales", 1, []string{"stg.customers", "stg.orders"}},
		{"downstream unlimited", g.Downstream, "raw.orders", 0, []string{"stg.orders", "mart.sales", "report.daily"}},
		{"downstream two hops", g.Downstream, "raw.orders", 2, []string{"stg.orders", "mart.sales"}},
		{"root has no upstream", g.Upstream, "raw.orders", 0, []string{}},
		{"unknown table", g.Downstream, "nope", 0, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hopKeys(tt.walk(tt.start, tt.depth)))
		})
	}
}

func TestGraph_TraversalDepths(t *testing.T) {
	g := buildGraph(t)

	hops := g.Upstream("report.daily", 0)
	depths := make(map[string]int, len(hops))
	for _, h := range hops {
		depths[h.Key] = h.Depth
	}
	assert.Equal(t, map[string]int{
		"mart.sales":    1,
		"stg.customers": 2,
		"stg.orders":    2,
		"raw.customers": 3,
		"raw.orders":    3,
	}, depths)
}

func TestGraph_TraversalTerminatesOnCycles(t *testing.T) {
	g := NewGraph()
	for _, key := range []string{"a", "b", "c"} {
		g.AddNode(key, key)
	}
	require.NoError(t, g.AddEdge("a", "b", 1))
	require.NoError(t, g.AddEdge("b", "c", 1))
	require.NoError(t, g.AddEdge("c", "a", 1))

	assert.Equal(t, []string{"b", "c"}, hopKeys(g.Downstream("a", 0)))
	assert.Equal(t, []string{"c", "b"}, hopKeys(g.Upstream("a", 0)))

	hasCycle, path := g.HasCycle()
	assert.True(t, hasCycle)
	assert.Equal(t, []string{"a", "b", "c", "a"}, path)
}

func TestGraph_HasCycle_Acyclic(t *testing.T) {
	hasCycle, path := buildGraph(t).HasCycle()
	assert.False(t, hasCycle)
	assert.Nil(t, path)
}

func TestGraph_RootsAndLeaves(t *testing.T) {
	g := buildGraph(t)
	g.AddNode("lonely", "lonely")

	assert.Equal(t, []string{"lonely", "raw.customers", "raw.orders"}, g.Roots())
	assert.Equal(t, []string{"lonely", "report.daily"}, g.Leaves())
}

func TestFromStored(t *testing.T) {
	now := time.Now()
	g := FromStored(
		[]core.StoredTable{{Key: "dbo.sales", Name: "dbo.Sales", FirstSeen: now, LastSeen: now}},
		[]core.StoredEdge{{FromKey: "staging.sales", FromName: "Staging.Sales", ToKey: "dbo.sales", ToName: "DBO.SALES", EvidenceCount: 4}},
	)

	n, ok := g.Lookup("DBO.Sales")
	require.True(t, ok)
	assert.Equal(t, "dbo.Sales", n.Name)
	assert.Equal(t, []string{"staging.sales"}, g.Parents("dbo.sales"))
	assert.Equal(t, 4, g.Edges()[0].EvidenceCount)
}

func TestFromLineage(t *testing.T) {
	a, b, c := core.NewTableReference("A"), core.NewTableReference("B"), core.NewTableReference("C")
	g := FromLineage(core.LineageGraph{
		Nodes: []core.TableReference{a, b, c},
		Edges: []core.LineageEdge{{From: a, To: b, EvidenceCount: 2}},
	})

	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, []string{"a"}, g.Parents("b"))
	assert.Equal(t, []string{"a", "c"}, g.Roots())
}
