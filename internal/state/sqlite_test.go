package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/querylineage/internal/testutil"
	"github.com/leapstack-labs/querylineage/pkg/core"
)

var (
	t0     = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	window = core.TimeWindow{Start: t0.Truncate(24 * time.Hour), End: t0.Truncate(24 * time.Hour).Add(48 * time.Hour)}
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.InitSchema())
	store.now = func() time.Time { return t0.Add(72 * time.Hour) }
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func ref(name string) core.TableReference {
	return core.NewTableReference(name)
}

func edge(from, to string, count int, first, last time.Time, queries ...string) core.LineageEdge {
	return core.LineageEdge{
		From: ref(from), To: ref(to),
		EvidenceCount: count, FirstSeen: first, LastSeen: last,
		Queries: queries,
	}
}

func TestSQLiteStore_OpenClose(t *testing.T) {
	store := NewSQLiteStore(nil)
	require.NoError(t, store.Open(":memory:"))
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore(nil)

	_, err := store.CreateRun("postgres", window)
	assert.Error(t, err)
	_, err = store.ListEdges()
	assert.Error(t, err)
	assert.Error(t, store.SaveGraph(context.Background(), "x", core.LineageGraph{}))
	assert.Error(t, store.InitSchema())
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_InitSchema(t *testing.T) {
	store := setupTestStore(t)

	for _, table := range []string{"runs", "lineage_tables", "lineage_edges", "column_edges"} {
		rows, err := store.db.Query("SELECT 1 FROM " + table + " LIMIT 1")
		require.NoError(t, err, "table %s does not exist", table)
		_ = rows.Close()
	}

	version, err := store.GetMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	// Migrations are idempotent.
	assert.NoError(t, store.InitSchema())
}

func TestOpenStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := OpenStore(path, nil)
	require.NoError(t, err)
	run, err := store.CreateRun("mssql", window)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenStore(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "mssql", got.Dialect)

	_, err = OpenStore(" ", nil)
	assert.Error(t, err)
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	tests := []struct {
		name      string
		operation func(t *testing.T, store *SQLiteStore, run *core.Run)
		verify    func(t *testing.T, got *core.Run)
	}{
		{
			name: "create run",
			verify: func(t *testing.T, got *core.Run) {
				assert.Equal(t, "postgres", got.Dialect)
				assert.Equal(t, core.RunStatusRunning, got.Status)
				assert.Equal(t, window.Start, got.WindowStart)
				assert.Equal(t, window.End, got.WindowEnd)
				assert.Nil(t, got.CompletedAt)
				assert.Empty(t, got.Error)
			},
		},
		{
			name: "complete run with stats",
			operation: func(t *testing.T, store *SQLiteStore, run *core.Run) {
				stats := core.RunStats{Read: 10, Filtered: 2, Unparsable: 1, Empty: 3, Folded: 4, Edges: 5, Nodes: 6}
				require.NoError(t, store.CompleteRun(run.ID, core.RunStatusCompleted, stats, ""))
			},
			verify: func(t *testing.T, got *core.Run) {
				assert.Equal(t, core.RunStatusCompleted, got.Status)
				require.NotNil(t, got.CompletedAt)
				assert.Equal(t, core.RunStats{Read: 10, Filtered: 2, Unparsable: 1, Empty: 3, Folded: 4, Edges: 5, Nodes: 6}, got.Stats)
			},
		},
		{
			name: "fail run with error",
			operation: func(t *testing.T, store *SQLiteStore, run *core.Run) {
				require.NoError(t, store.CompleteRun(run.ID, core.RunStatusFailed, core.RunStats{Read: 1}, "log unavailable"))
			},
			verify: func(t *testing.T, got *core.Run) {
				assert.Equal(t, core.RunStatusFailed, got.Status)
				assert.Equal(t, "log unavailable", got.Error)
				assert.Equal(t, 1, got.Stats.Read)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStore(t)
			run, err := store.CreateRun("postgres", window)
			require.NoError(t, err)
			assert.NotEmpty(t, run.ID)

			if tt.operation != nil {
				tt.operation(t, store, run)
			}

			got, err := store.GetRun(run.ID)
			require.NoError(t, err)
			tt.verify(t, got)
		})
	}
}

func TestSQLiteStore_RunNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRun("missing")
	assert.ErrorContains(t, err, "run not found")
	assert.ErrorContains(t, store.CompleteRun("missing", core.RunStatusCompleted, core.RunStats{}, ""), "run not found")
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	store := setupTestStore(t)

	var ids []string
	for i := range 3 {
		at := t0.Add(time.Duration(i) * time.Hour)
		store.now = func() time.Time { return at }
		run, err := store.CreateRun("duckdb", window)
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	runs, err := store.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	all, err := store.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteStore_SaveGraph(t *testing.T) {
	store := setupTestStore(t)
	run, err := store.CreateRun("mssql", window)
	require.NoError(t, err)

	g := core.LineageGraph{
		Nodes: []core.TableReference{ref("dbo.Sales"), ref("lookup.region"), ref("staging.Sales")},
		Edges: []core.LineageEdge{
			edge("staging.Sales", "dbo.Sales", 2, t0, t0.Add(time.Hour), "INSERT INTO dbo.Sales SELECT * FROM staging.Sales"),
		},
		Columns: []core.ColumnEdge{
			{FromTable: "staging.Sales", FromColumn: "Amount", ToTable: "dbo.Sales", ToColumn: "amount", EvidenceCount: 2},
		},
	}
	require.NoError(t, store.SaveGraph(context.Background(), run.ID, g))

	tables, err := store.ListTables()
	require.NoError(t, err)
	require.Len(t, tables, 3)
	assert.Equal(t, "dbo.Sales", tables[0].Name)
	assert.Equal(t, "dbo.sales", tables[0].Key)
	assert.Equal(t, t0, tables[0].FirstSeen)
	assert.Equal(t, t0.Add(time.Hour), tables[0].LastSeen)
	// Pure reads carry the save time.
	assert.Equal(t, "lookup.region", tables[1].Name)
	assert.Equal(t, store.now(), tables[1].LastSeen)

	edges, err := store.ListEdges()
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, core.StoredEdge{
		FromKey: "staging.sales", FromName: "staging.Sales",
		ToKey: "dbo.sales", ToName: "dbo.Sales",
		EvidenceCount: 2, FirstSeen: t0, LastSeen: t0.Add(time.Hour),
		LastRunID:   run.ID,
		SampleQuery: "INSERT INTO dbo.Sales SELECT * FROM staging.Sales",
	}, edges[0])

	cols, err := store.ListColumnEdges("DBO.SALES")
	require.NoError(t, err)
	assert.Equal(t, g.Columns, cols)

	none, err := store.ListColumnEdges("lookup.region")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_SaveGraph_MergesAcrossRuns(t *testing.T) {
	store := setupTestStore(t)
	first, err := store.CreateRun("mssql", window)
	require.NoError(t, err)
	second, err := store.CreateRun("mssql", window)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.SaveGraph(ctx, first.ID, core.LineageGraph{
		Nodes: []core.TableReference{ref("dbo.Sales"), ref("staging.Sales")},
		Edges: []core.LineageEdge{edge("staging.Sales", "dbo.Sales", 3, t0, t0.Add(2*time.Hour), "q1")},
		Columns: []core.ColumnEdge{
			{FromTable: "staging.Sales", FromColumn: "id", ToTable: "dbo.Sales", ToColumn: "id", EvidenceCount: 3},
		},
	}))
	// The second run observes different casing and an older and newer query.
	require.NoError(t, store.SaveGraph(ctx, second.ID, core.LineageGraph{
		Nodes: []core.TableReference{ref("DBO.SALES"), ref("STAGING.SALES")},
		Edges: []core.LineageEdge{edge("STAGING.SALES", "DBO.SALES", 4, t0.Add(-time.Hour), t0.Add(5*time.Hour))},
		Columns: []core.ColumnEdge{
			{FromTable: "STAGING.SALES", FromColumn: "ID", ToTable: "DBO.SALES", ToColumn: "ID", EvidenceCount: 1},
		},
	}))

	edges, err := store.ListEdges()
	require.NoError(t, err)
	require.Len(t, edges, 1)
	e := edges[0]
	assert.Equal(t, 7, e.EvidenceCount)
	assert.Equal(t, t0.Add(-time.Hour), e.FirstSeen)
	assert.Equal(t, t0.Add(5*time.Hour), e.LastSeen)
	assert.Equal(t, second.ID, e.LastRunID)
	assert.Equal(t, "q1", e.SampleQuery)
	assert.Equal(t, "staging.Sales", e.FromName, "first-seen casing is kept")

	cols, err := store.ListColumnEdges("")
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, 4, cols[0].EvidenceCount)
}

func TestSQLiteStore_SaveGraph_Cancelled(t *testing.T) {
	store := setupTestStore(t)
	run, err := store.CreateRun("mssql", window)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.SaveGraph(ctx, run.ID, core.LineageGraph{
		Nodes: []core.TableReference{ref("a"), ref("b")},
		Edges: []core.LineageEdge{edge("a", "b", 1, t0, t0)},
	})
	require.Error(t, err)

	tables, err := store.ListTables()
	require.NoError(t, err)
	assert.Empty(t, tables)
}
