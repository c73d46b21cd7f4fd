// Package server exposes the persisted lineage graph over a read-only HTTP API.
//
// Routes:
//
//	GET /api/tables                 all tables seen across runs
//	GET /api/edges                  all table edges with evidence
//	GET /api/columns?table=name     column edges, optionally for one table
//	GET /api/lineage/{table}        upstream/downstream walk (?direction=&depth=)
//	GET /api/runs                   recent runs (?limit=)
//	GET /api/runs/{id}              one run
//	GET /api/events                 server-sent events after each refresh
//
// When a Refresh function is configured the server re-extracts on an
// interval, or when the watched query log file changes, and notifies
// /api/events subscribers after each successful pass.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

const watchDebounce = 100 * time.Millisecond

// Reader is the part of the state store the API reads from.
type Reader interface {
	GetRun(id string) (*core.Run, error)
	ListRuns(limit int) ([]*core.Run, error)
	ListTables() ([]core.StoredTable, error)
	ListEdges() ([]core.StoredEdge, error)
	ListColumnEdges(table string) ([]core.ColumnEdge, error)
}

// Config holds configuration for the API server.
type Config struct {
	Store  Reader
	Addr   string
	Logger *slog.Logger

	// Refresh re-extracts lineage into Store (optional).
	Refresh func(ctx context.Context) error
	// RefreshInterval is the time between refreshes. Zero disables them.
	RefreshInterval time.Duration
	// WatchPath, when set, triggers Refresh whenever the file changes.
	WatchPath string
}

// Server is the lineage read API server.
type Server struct {
	store    Reader
	addr     string
	logger   *slog.Logger
	notifier *notifier

	refresh         func(ctx context.Context) error
	refreshInterval time.Duration
	watchPath       string
	refreshMu       sync.Mutex
}

// New creates a new API server instance.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		store:           cfg.Store,
		addr:            cfg.Addr,
		logger:          logger,
		notifier:        newNotifier(),
		refresh:         cfg.Refresh,
		refreshInterval: cfg.RefreshInterval,
		watchPath:       cfg.WatchPath,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		s.requestLogger,
		middleware.Recoverer,
		middleware.Compress(5, "application/json"),
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/tables", s.handleTables)
		r.Get("/edges", s.handleEdges)
		r.Get("/columns", s.handleColumns)
		r.Get("/lineage/{table}", s.handleLineage)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{id}", s.handleRun)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting API server", slog.String("addr", "http://"+ln.Addr().String()))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.refresh != nil && s.refreshInterval > 0 {
		eg.Go(func() error {
			s.refreshLoop(egctx)
			return nil
		})
	}

	if s.refresh != nil && s.watchPath != "" {
		eg.Go(func() error {
			return s.watchFile(egctx)
		})
	}

	// Start HTTP server
	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down API server...")
		s.notifier.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// refreshLoop runs Refresh on every tick until ctx is done. A failed
// refresh is logged and retried on the next tick.
func (s *Server) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRefresh(ctx)
		}
	}
}

// runRefresh runs one refresh and notifies subscribers when it succeeds.
// Concurrent triggers are serialized.
func (s *Server) runRefresh(ctx context.Context) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if err := s.refresh(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.Error("refresh failed", slog.String("error", err.Error()))
		}
		return
	}
	s.notifier.Broadcast()
}

// watchFile refreshes after writes to watchPath. The parent directory is
// watched so files replaced by rename are still seen.
func (s *Server) watchFile(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(s.watchPath)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", target, err)
	}
	s.logger.Info("watching query log", slog.String("path", target))

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				s.logger.Debug("query log changed, refreshing", slog.String("path", target))
				s.runRefresh(ctx)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}

// requestLogger logs each request through the server's slog logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
