package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// Sink receives the graph of a completed extraction.
type Sink interface {
	SaveGraph(ctx context.Context, runID string, g core.LineageGraph) error
}

// RunRecorder is implemented by sinks that also keep run history.
type RunRecorder interface {
	CreateRun(dialect string, window core.TimeWindow) (*core.Run, error)
	CompleteRun(id string, status core.RunStatus, stats core.RunStats, errMsg string) error
}

// Run extracts the window and hands the graph to sink. The sink is called
// only when extraction succeeds; a cancelled run returns the context error
// without touching it. When sink is a RunRecorder the run and its outcome
// are recorded.
func (e *Extractor) Run(ctx context.Context, sink Sink) (*core.Run, *Result, error) {
	recorder, _ := sink.(RunRecorder)

	run := &core.Run{
		ID:          uuid.New().String(),
		Dialect:     e.cfg.Dialect.Name,
		WindowStart: e.cfg.Window.Start,
		WindowEnd:   e.cfg.Window.End,
		Status:      core.RunStatusRunning,
	}
	if recorder != nil {
		created, err := recorder.CreateRun(e.cfg.Dialect.Name, e.cfg.Window)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create run: %w", err)
		}
		run = created
	}
	e.logger.Debug("created run", slog.String("run_id", run.ID))

	res, err := e.Extract(ctx)
	if err != nil {
		status := core.RunStatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = core.RunStatusCancelled
		}
		run.Status = status
		run.Error = err.Error()
		if recorder != nil {
			if cerr := recorder.CompleteRun(run.ID, status, core.RunStats{}, err.Error()); cerr != nil {
				e.logger.Warn("failed to record run outcome", slog.String("run_id", run.ID), slog.String("error", cerr.Error()))
			}
		}
		return run, nil, err
	}

	if err := sink.SaveGraph(ctx, run.ID, res.Graph); err != nil {
		err = fmt.Errorf("failed to save lineage graph: %w", err)
		run.Status = core.RunStatusFailed
		run.Error = err.Error()
		if recorder != nil {
			if cerr := recorder.CompleteRun(run.ID, core.RunStatusFailed, res.Stats, err.Error()); cerr != nil {
				e.logger.Warn("failed to record run outcome", slog.String("run_id", run.ID), slog.String("error", cerr.Error()))
			}
		}
		return run, res, err
	}

	run.Status = core.RunStatusCompleted
	run.Stats = res.Stats
	if recorder != nil {
		if err := recorder.CompleteRun(run.ID, core.RunStatusCompleted, res.Stats, ""); err != nil {
			return run, res, fmt.Errorf("failed to complete run: %w", err)
		}
	}

	e.logger.Info("run completed", slog.String("run_id", run.ID), slog.Int("edges", res.Stats.Edges))
	return run, res, nil
}
