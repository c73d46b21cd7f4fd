package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querylineage/internal/cli/config"
	"github.com/leapstack-labs/querylineage/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the stored lineage graph over HTTP",
		Long: `Start a read-only JSON API over the state database.

With --refresh the server also re-runs extract on that interval, using the
same source options as the extract command. With --watch and the file source
it re-runs extract whenever the log file is written. Either way a
"lineage-updated" event is pushed to /api/events subscribers after each
successful pass.`,
		Example: `  # Serve on the default address
  querylineage serve

  # Re-extract every 15 minutes
  querylineage serve --addr :8080 --refresh 15m --driver pgx --dsn "$PG_DSN" --dialect postgres

  # Follow an exported log file
  querylineage serve --watch --source-type file --path queries.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	cmd.Flags().String("addr", config.DefaultServerAddr, "Listen address")
	cmd.Flags().Duration("refresh", 0, "Re-extract interval (0 = never)")
	cmd.Flags().Bool("watch", false, "Re-extract when the file source's log changes")
	addExtractFlags(cmd)

	return cmd
}

func runServe(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg
	logger := cmdCtx.Logger

	refreshing := cfg.Server.Refresh > 0 || cfg.Server.Watch
	if refreshing {
		if err := cfg.ValidateExtract(); err != nil {
			return err
		}
	}

	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	srvCfg := server.Config{
		Store:  store,
		Addr:   cfg.Server.Addr,
		Logger: logger,
	}
	if refreshing {
		srvCfg.RefreshInterval = cfg.Server.Refresh
		if cfg.Server.Watch {
			srvCfg.WatchPath = cfg.Source.Path
		}
		srvCfg.Refresh = func(ctx context.Context) error {
			run, _, err := Extract(ctx, cfg, logger, store)
			if err != nil {
				return err
			}
			logger.Info("lineage refreshed", slog.String("run_id", run.ID), slog.Int("edges", run.Stats.Edges))
			return nil
		}
	}

	cmdCtx.Renderer.Printf("Serving lineage API on http://%s (Ctrl+C to stop)\n", cfg.Server.Addr)
	return server.New(srvCfg).Serve(cmd.Context())
}
