package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/querylineage/internal/querylog"
	"github.com/leapstack-labs/querylineage/internal/testutil"
	"github.com/leapstack-labs/querylineage/pkg/core"
	"github.com/leapstack-labs/querylineage/pkg/dialects/ansi"
	"github.com/leapstack-labs/querylineage/pkg/dialects/mssql"
	"github.com/leapstack-labs/querylineage/pkg/dialects/postgres"
	"github.com/leapstack-labs/querylineage/pkg/filter"
)

var (
	day    = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	window = core.TimeWindow{Start: day, End: day.Add(7 * 24 * time.Hour)}
)

func rec(text string, offset time.Duration) core.QueryLogRecord {
	return core.QueryLogRecord{Text: text, ExecutedAt: day.Add(offset), Dialect: "mssql"}
}

// memorySink records what it was given.
type memorySink struct {
	mu    sync.Mutex
	calls int
	runID string
	graph core.LineageGraph
	err   error
}

func (s *memorySink) SaveGraph(_ context.Context, runID string, g core.LineageGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.runID = runID
	s.graph = g
	return s.err
}

// recordingSink also keeps run history.
type recordingSink struct {
	memorySink
	runs        map[string]*core.Run
	completeErr error
}

func (s *recordingSink) CreateRun(dialect string, w core.TimeWindow) (*core.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = make(map[string]*core.Run)
	}
	run := &core.Run{ID: fmt.Sprintf("run-%d", len(s.runs)+1), Dialect: dialect, WindowStart: w.Start, WindowEnd: w.End, Status: core.RunStatusRunning}
	s.runs[run.ID] = run
	return run, nil
}

func (s *recordingSink) CompleteRun(id string, status core.RunStatus, stats core.RunStats, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run not found: %s", id)
	}
	run.Status, run.Stats, run.Error = status, stats, errMsg
	return nil
}

// endlessSource yields the same record until its context is cancelled.
type endlessSource struct {
	rec     core.QueryLogRecord
	yielded chan struct{}
}

func (s *endlessSource) Records(ctx context.Context, _ core.TimeWindow) iter.Seq2[core.QueryLogRecord, error] {
	return func(yield func(core.QueryLogRecord, error) bool) {
		for i := 0; ; i++ {
			if err := ctx.Err(); err != nil {
				yield(core.QueryLogRecord{}, err)
				return
			}
			if i == 100 {
				close(s.yielded)
			}
			if !yield(s.rec, nil) {
				return
			}
		}
	}
}

// failingSource yields n records and then an error.
type failingSource struct {
	n   int
	err error
}

func (s failingSource) Records(_ context.Context, _ core.TimeWindow) iter.Seq2[core.QueryLogRecord, error] {
	return func(yield func(core.QueryLogRecord, error) bool) {
		for range s.n {
			if !yield(rec("INSERT INTO a SELECT * FROM b", time.Hour), nil) {
				return
			}
		}
		yield(core.QueryLogRecord{}, s.err)
	}
}

func newExtractor(t *testing.T, cfg Config) *Extractor {
	t.Helper()
	if cfg.Dialect == nil {
		cfg.Dialect = mssql.MSSQL
	}
	cfg.Window = window
	cfg.Logger = testutil.NewTestLogger(t)
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestNew_Validation(t *testing.T) {
	src := querylog.SliceSource{}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing dialect", Config{Source: src, Window: window}},
		{"missing source", Config{Dialect: ansi.ANSI, Window: window}},
		{"empty window", Config{Dialect: ansi.ANSI, Source: src, Window: core.TimeWindow{Start: day, End: day}}},
		{"inverted window", Config{Dialect: ansi.ANSI, Source: src, Window: core.TimeWindow{Start: day, End: day.Add(-time.Hour)}}},
		{"negative workers", Config{Dialect: ansi.ANSI, Source: src, Window: window, Workers: -1}},
		{"negative queue", Config{Dialect: ansi.ANSI, Source: src, Window: window, QueueSize: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg)
			assert.Nil(t, e)
			assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
		})
	}

	e, err := New(Config{Dialect: ansi.ANSI, Source: src, Window: window})
	require.NoError(t, err)
	assert.Positive(t, e.cfg.Workers)
	assert.Equal(t, DefaultQueueSize, e.cfg.QueueSize)
}

func TestExtractor_Extract(t *testing.T) {
	src := querylog.SliceSource{
		rec("INSERT INTO [dbo].[Sales] SELECT * FROM [staging].[Sales]", time.Hour),
		rec("insert into dbo.sales select * from staging.sales s join [<default>].[Region] r on s.r = r.id", 2*time.Hour),
		rec("SELECT * FROM sys.objects", 3*time.Hour),
		rec("SELECT 1", 4*time.Hour),
		rec("GRANT SELECT ON dbo.Sales TO reporting", 5*time.Hour),
		rec("SELEC garbage (", 6*time.Hour),
		rec("SELECT * FROM dbo.Sales", 7*time.Hour),
		rec("INSERT INTO dbo.Sales SELECT * FROM dbo.Sales", 8*time.Hour),
		rec("INSERT INTO dbo.Late SELECT * FROM staging.Sales", -time.Hour), // outside the window
	}

	e := newExtractor(t, Config{
		Source:  src,
		Filter:  filter.MustCompile(`contains(text, "sys.")`),
		Workers: 3,
	})
	logger, logs := testutil.NewCaptureLogger()
	e.logger = logger

	res, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.True(t, logs.Contains("skipping unparsable query"))
	assert.True(t, logs.Contains("kind="))
	assert.True(t, logs.Contains("msg=\"extraction finished\""))

	assert.Equal(t, core.RunStats{
		Read:       8,
		Filtered:   1,
		Unparsable: 2,
		Empty:      1,
		Folded:     4,
		Edges:      2,
		Nodes:      3,
	}, res.Stats)

	sales, ok := res.Graph.Edge("staging.sales", "dbo.sales")
	require.True(t, ok)
	assert.Equal(t, 2, sales.EvidenceCount)
	assert.Equal(t, day.Add(time.Hour), sales.FirstSeen)
	assert.Equal(t, day.Add(2*time.Hour), sales.LastSeen)
	assert.Len(t, sales.Queries, 2)

	region, ok := res.Graph.Edge("region", "dbo.sales")
	require.True(t, ok, "sentinel schema is stripped")
	assert.Equal(t, 1, region.EvidenceCount)

	_, ok = res.Graph.Edge("dbo.sales", "dbo.sales")
	assert.False(t, ok, "self edges are dropped")

	keys := make([]string, len(res.Graph.Nodes))
	for i, n := range res.Graph.Nodes {
		keys[i] = n.Key
	}
	assert.Equal(t, []string{"dbo.sales", "region", "staging.sales"}, keys)
}

func TestExtractor_ConcurrentFolding(t *testing.T) {
	var src querylog.SliceSource
	const perEdge = 300
	for i := range perEdge {
		at := time.Duration(i) * time.Minute
		src = append(src,
			rec("INSERT INTO a SELECT * FROM b", at),
			rec("INSERT INTO c SELECT * FROM a JOIN b ON a.id = b.id", at),
			rec("UPDATE d SET x = 1 FROM e WHERE d.id = e.id; SELECT 1", at),
		)
	}

	e := newExtractor(t, Config{Source: src, Workers: 8, QueueSize: 4, MaxQuerySamples: 1})
	res, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3*perEdge, res.Stats.Folded)

	for _, pair := range [][2]string{{"b", "a"}, {"a", "c"}, {"b", "c"}, {"e", "d"}} {
		edge, ok := res.Graph.Edge(pair[0], pair[1])
		require.True(t, ok, "%s -> %s", pair[0], pair[1])
		assert.Equal(t, perEdge, edge.EvidenceCount)
		assert.Len(t, edge.Queries, 1)
		assert.Equal(t, day, edge.FirstSeen)
		assert.Equal(t, day.Add((perEdge-1)*time.Minute), edge.LastSeen)
	}
}

func TestExtractor_ColumnLineage(t *testing.T) {
	src := querylog.SliceSource{rec("INSERT INTO dw.t (a, b) SELECT s.x, y + 1 FROM raw.s s", time.Hour)}

	e := newExtractor(t, Config{Dialect: ansi.ANSI, Source: src, ColumnLineage: true})
	res, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []core.ColumnEdge{
		{FromTable: "raw.s", FromColumn: "x", ToTable: "dw.t", ToColumn: "a", EvidenceCount: 1},
		{FromTable: "raw.s", FromColumn: "y", ToTable: "dw.t", ToColumn: "b", EvidenceCount: 1},
	}, res.Graph.Columns)

	off := newExtractor(t, Config{Dialect: ansi.ANSI, Source: src})
	res, err = off.Extract(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Graph.Columns)
}

func TestExtractor_RecordDialect(t *testing.T) {
	src := querylog.SliceSource{
		{Text: "INSERT INTO [dw].[T] SELECT * FROM [raw].[S]", ExecutedAt: day, Dialect: "mssql"},
		{Text: "INSERT INTO dw.u SELECT * FROM raw.v", ExecutedAt: day, Dialect: "unregistered"},
	}

	e := newExtractor(t, Config{Dialect: postgres.Postgres, Source: src})
	res, err := e.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats.Unparsable)

	_, ok := res.Graph.Edge("raw.s", "dw.t")
	assert.True(t, ok)
	_, ok = res.Graph.Edge("raw.v", "dw.u")
	assert.True(t, ok)
}

func TestExtractor_SourceError(t *testing.T) {
	e := newExtractor(t, Config{Source: failingSource{n: 5, err: assert.AnError}})
	sink := &memorySink{}

	run, res, err := e.Run(context.Background(), sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to read query log")
	assert.Nil(t, res)
	assert.Equal(t, core.RunStatusFailed, run.Status)
	assert.Equal(t, 0, sink.calls)
}

func TestExtractor_Cancellation(t *testing.T) {
	src := &endlessSource{rec: rec("INSERT INTO a SELECT * FROM b", time.Hour), yielded: make(chan struct{})}
	e := newExtractor(t, Config{Source: src, Workers: 2, QueueSize: 2})
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-src.yielded
		cancel()
	}()

	done := make(chan struct{})
	var (
		run *core.Run
		res *Result
		err error
	)
	go func() {
		defer close(done)
		run, res, err = e.Run(ctx, sink)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Nil(t, res)
	assert.Equal(t, 0, sink.calls, "sink must not be called")
	assert.Equal(t, core.RunStatusCancelled, sink.runs[run.ID].Status)
}

func TestExtractor_Run(t *testing.T) {
	src := querylog.SliceSource{rec("INSERT INTO dbo.Sales SELECT * FROM staging.Sales", time.Hour)}

	t.Run("plain sink", func(t *testing.T) {
		sink := &memorySink{}
		run, res, err := newExtractor(t, Config{Source: src}).Run(context.Background(), sink)
		require.NoError(t, err)
		assert.Equal(t, 1, sink.calls)
		assert.Equal(t, run.ID, sink.runID)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, res.Graph, sink.graph)
		assert.Equal(t, core.RunStatusCompleted, run.Status)
	})

	t.Run("recording sink", func(t *testing.T) {
		sink := &recordingSink{}
		run, _, err := newExtractor(t, Config{Source: src}).Run(context.Background(), sink)
		require.NoError(t, err)
		assert.Equal(t, "run-1", run.ID)
		stored := sink.runs["run-1"]
		assert.Equal(t, core.RunStatusCompleted, stored.Status)
		assert.Equal(t, 1, stored.Stats.Edges)
		assert.Equal(t, "mssql", stored.Dialect)
	})

	t.Run("sink failure", func(t *testing.T) {
		sink := &recordingSink{memorySink: memorySink{err: assert.AnError}}
		run, res, err := newExtractor(t, Config{Source: src}).Run(context.Background(), sink)
		require.ErrorIs(t, err, assert.AnError)
		assert.NotNil(t, res)
		assert.Equal(t, core.RunStatusFailed, sink.runs[run.ID].Status)
		assert.Contains(t, sink.runs[run.ID].Error, "failed to save lineage graph")
	})

	t.Run("sink and run record failure", func(t *testing.T) {
		sink := &recordingSink{memorySink: memorySink{err: assert.AnError}, completeErr: errors.New("disk full")}
		e := newExtractor(t, Config{Source: src})
		logger, logs := testutil.NewCaptureLogger()
		e.logger = logger

		run, _, err := e.Run(context.Background(), sink)
		require.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, core.RunStatusFailed, run.Status)
		assert.True(t, logs.Contains("failed to record run outcome"))
		assert.True(t, logs.Contains("disk full"))
	})
}
