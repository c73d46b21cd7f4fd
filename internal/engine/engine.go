// Package engine runs lineage extraction over a query log.
//
// An Extractor drives one pass over a time window as a pipeline: a reader
// goroutine drains the log source into a bounded queue, a pool of workers
// filters and parses records, and a single aggregator goroutine owns every
// fold into the lineage graph.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/querylineage/internal/querylog"
	"github.com/leapstack-labs/querylineage/pkg/core"
	"github.com/leapstack-labs/querylineage/pkg/dialect"
	"github.com/leapstack-labs/querylineage/pkg/filter"
	"github.com/leapstack-labs/querylineage/pkg/lineage"
	"github.com/leapstack-labs/querylineage/pkg/parser"
	"github.com/leapstack-labs/querylineage/pkg/timing"
)

// DefaultQueueSize bounds each pipeline channel when none is configured.
const DefaultQueueSize = 256

// Config holds extractor configuration.
type Config struct {
	// Dialect parses records that do not name a registered dialect of their own
	Dialect *dialect.Dialect
	// Source yields the query log records
	Source querylog.Source
	// Window is the time range to extract
	Window core.TimeWindow
	// Filter excludes records before parsing (optional)
	Filter *filter.Filter
	// Workers is the number of parser goroutines (default: number of CPUs)
	Workers int
	// QueueSize bounds the record and result queues (default: DefaultQueueSize)
	QueueSize int
	// ColumnLineage enables best-effort column-level lineage
	ColumnLineage bool
	// MaxQuerySamples caps the sample queries kept per edge
	MaxQuerySamples int
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Extractor extracts a lineage graph from a query log.
type Extractor struct {
	cfg    Config
	logger *slog.Logger
	opts   []parser.Option
}

// Result is the outcome of one extraction.
type Result struct {
	Graph    core.LineageGraph
	Stats    core.RunStats
	Duration time.Duration
}

// New validates cfg and creates an extractor. All configuration problems
// are reported here, before any record is read.
func New(cfg Config) (*Extractor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if cfg.Dialect == nil {
		return nil, core.InvalidConfigf("%v", dialect.ErrDialectRequired)
	}
	if cfg.Source == nil {
		return nil, core.InvalidConfigf("query log source is required")
	}
	if !cfg.Window.Start.Before(cfg.Window.End) {
		return nil, core.InvalidConfigf("window start %s is not before end %s",
			cfg.Window.Start.Format(time.RFC3339), cfg.Window.End.Format(time.RFC3339))
	}
	if cfg.Workers < 0 {
		return nil, core.InvalidConfigf("workers must not be negative, got %d", cfg.Workers)
	}
	if cfg.QueueSize < 0 {
		return nil, core.InvalidConfigf("queue size must not be negative, got %d", cfg.QueueSize)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	e := &Extractor{cfg: cfg, logger: logger}
	if cfg.ColumnLineage {
		e.opts = append(e.opts, parser.WithColumns())
	}
	return e, nil
}

// parsed is a record that survived filtering and parsing.
type parsed struct {
	rec     core.QueryLogRecord
	queries []*core.ParsedQuery
}

// counters are updated from several goroutines.
type counters struct {
	read, filtered, unparsable, empty, folded atomic.Int64
}

// Extract reads the window from the source and returns the aggregated graph.
// If ctx is cancelled the context error is returned and any partial result
// is discarded.
func (e *Extractor) Extract(ctx context.Context) (*Result, error) {
	start := time.Now()
	e.logger.Info("extracting lineage",
		slog.String("dialect", e.cfg.Dialect.Name),
		slog.Time("window_start", e.cfg.Window.Start),
		slog.Time("window_end", e.cfg.Window.End),
		slog.Int("workers", e.cfg.Workers))

	records := make(chan core.QueryLogRecord, e.cfg.QueueSize)
	results := make(chan parsed, e.cfg.QueueSize)
	agg := lineage.NewAggregator(lineage.Options{MaxQuerySamples: e.cfg.MaxQuerySamples})
	var c counters

	g, gctx := errgroup.WithContext(ctx)

	// Reader
	g.Go(func() error {
		defer close(records)
		seq := timing.MeasureSeq(e.logger, "query log read", e.cfg.Source.Records(gctx, e.cfg.Window))
		for rec, err := range seq {
			if err != nil {
				return fmt.Errorf("failed to read query log: %w", err)
			}
			c.read.Add(1)
			select {
			case records <- rec:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	// Parsers
	var workers sync.WaitGroup
	for range e.cfg.Workers {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for rec := range records {
				out, ok := e.process(rec, &c)
				if !ok {
					continue
				}
				select {
				case results <- out:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(results)
		return nil
	})

	// Aggregator
	g.Go(func() error {
		for r := range results {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, q := range r.queries {
				agg.Fold(q, r.rec.ExecutedAt, r.rec.Text)
			}
			c.folded.Add(1)
		}
		return nil
	})

	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		e.logger.Warn("extraction cancelled", slog.String("error", ctxErr.Error()))
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}

	graph := agg.Snapshot()
	res := &Result{
		Graph: graph,
		Stats: core.RunStats{
			Read:       int(c.read.Load()),
			Filtered:   int(c.filtered.Load()),
			Unparsable: int(c.unparsable.Load()),
			Empty:      int(c.empty.Load()),
			Folded:     int(c.folded.Load()),
			Edges:      len(graph.Edges),
			Nodes:      len(graph.Nodes),
		},
		Duration: time.Since(start),
	}

	e.logger.Info("extraction finished",
		slog.Int("read", res.Stats.Read),
		slog.Int("filtered", res.Stats.Filtered),
		slog.Int("unparsable", res.Stats.Unparsable),
		slog.Int("folded", res.Stats.Folded),
		slog.Int("edges", res.Stats.Edges),
		slog.String("elapsed", timing.FormatDuration(res.Duration)))
	return res, nil
}

// process filters and parses one record. It reports false when the record
// contributes nothing to the graph.
func (e *Extractor) process(rec core.QueryLogRecord, c *counters) (parsed, bool) {
	if !e.cfg.Filter.ShouldProcess(rec) {
		c.filtered.Add(1)
		return parsed{}, false
	}

	d := e.dialectFor(rec)
	queries, err := parser.ParseScript(rec.Text, d, e.opts...)
	if err != nil {
		c.unparsable.Add(1)
		if errors.Is(err, core.ErrUnparsableQuery) {
			e.logger.Debug("skipping unparsable query",
				slog.String("error", err.Error()),
				slog.String("kind", string(parser.Classify(rec.Text, d))),
				slog.String("query", truncate(rec.Text, 200)))
		} else {
			e.logger.Warn("failed to parse query", slog.String("error", err.Error()))
		}
		return parsed{}, false
	}

	empty := true
	for _, q := range queries {
		if !q.IsEmpty() {
			empty = false
			break
		}
	}
	if empty {
		c.empty.Add(1)
		return parsed{}, false
	}
	return parsed{rec: rec, queries: queries}, true
}

// dialectFor picks the record's own dialect when it names a registered one.
func (e *Extractor) dialectFor(rec core.QueryLogRecord) *dialect.Dialect {
	if rec.Dialect == "" || rec.Dialect == e.cfg.Dialect.Name {
		return e.cfg.Dialect
	}
	if d, ok := dialect.Get(rec.Dialect); ok {
		return d
	}
	return e.cfg.Dialect
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
