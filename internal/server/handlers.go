package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/querylineage/internal/dag"
	"github.com/leapstack-labs/querylineage/pkg/core"
)

// Table roles in the stored graph.
const (
	RoleSource       = "source" // only ever read
	RoleSink         = "sink"   // only ever written
	RoleIntermediate = "intermediate"
	RoleIsolated     = "isolated"
)

// TableJSON is a table in API responses.
type TableJSON struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// EdgeJSON is a table edge in API responses.
type EdgeJSON struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	EvidenceCount int       `json:"evidence_count"`
	FirstSeen     time.Time `json:"first_seen,omitzero"`
	LastSeen      time.Time `json:"last_seen,omitzero"`
	LastRunID     string    `json:"last_run_id,omitempty"`
	SampleQuery   string    `json:"sample_query,omitempty"`
}

// ColumnEdgeJSON is a column edge in API responses.
type ColumnEdgeJSON struct {
	FromTable     string `json:"from_table"`
	FromColumn    string `json:"from_column"`
	ToTable       string `json:"to_table"`
	ToColumn      string `json:"to_column"`
	EvidenceCount int    `json:"evidence_count"`
}

// HopJSON is a table reached by a lineage walk.
type HopJSON struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Depth int    `json:"depth"`
}

// LineageJSON is the response of GET /api/lineage/{table}.
type LineageJSON struct {
	Root       HopJSON    `json:"root"`
	Upstream   []HopJSON  `json:"upstream"`
	Downstream []HopJSON  `json:"downstream"`
	Edges      []EdgeJSON `json:"edges"`
	// Cycle is a loop among the returned tables, first table repeated last.
	Cycle []string `json:"cycle,omitempty"`
}

// RunJSON is a run in API responses.
type RunJSON struct {
	ID          string         `json:"id"`
	Dialect     string         `json:"dialect"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	Status      core.RunStatus `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Stats       RunStatsJSON   `json:"stats"`
	Error       string         `json:"error,omitempty"`
}

// RunStatsJSON carries a run's counters.
type RunStatsJSON struct {
	Read       int `json:"read"`
	Filtered   int `json:"filtered"`
	Unparsable int `json:"unparsable"`
	Empty      int `json:"empty"`
	Folded     int `json:"folded"`
	Edges      int `json:"edges"`
	Nodes      int `json:"nodes"`
}

type errorJSON struct {
	Error string `json:"error"`
}

// ToRunJSON converts a run for JSON output.
func ToRunJSON(r *core.Run) RunJSON {
	return RunJSON{
		ID:          r.ID,
		Dialect:     r.Dialect,
		WindowStart: r.WindowStart,
		WindowEnd:   r.WindowEnd,
		Status:      r.Status,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Stats: RunStatsJSON{
			Read:       r.Stats.Read,
			Filtered:   r.Stats.Filtered,
			Unparsable: r.Stats.Unparsable,
			Empty:      r.Stats.Empty,
			Folded:     r.Stats.Folded,
			Edges:      r.Stats.Edges,
			Nodes:      r.Stats.Nodes,
		},
		Error: r.Error,
	}
}

// ToEdgeJSON converts a stored edge for JSON output.
func ToEdgeJSON(e core.StoredEdge) EdgeJSON {
	return EdgeJSON{
		From:          e.FromName,
		To:            e.ToName,
		EvidenceCount: e.EvidenceCount,
		FirstSeen:     e.FirstSeen,
		LastSeen:      e.LastSeen,
		LastRunID:     e.LastRunID,
		SampleQuery:   e.SampleQuery,
	}
}

// ToTablesJSON converts stored tables, tagging each with its role in g.
func ToTablesJSON(tables []core.StoredTable, g *dag.Graph) []TableJSON {
	roots := make(map[string]bool)
	for _, k := range g.Roots() {
		roots[k] = true
	}
	leaves := make(map[string]bool)
	for _, k := range g.Leaves() {
		leaves[k] = true
	}

	out := make([]TableJSON, len(tables))
	for i, t := range tables {
		role := RoleIntermediate
		switch {
		case roots[t.Key] && leaves[t.Key]:
			role = RoleIsolated
		case roots[t.Key]:
			role = RoleSource
		case leaves[t.Key]:
			role = RoleSink
		}
		out[i] = TableJSON{Key: t.Key, Name: t.Name, Role: role, FirstSeen: t.FirstSeen, LastSeen: t.LastSeen}
	}
	return out
}

func (s *Server) handleTables(w http.ResponseWriter, _ *http.Request) {
	g, tables, err := s.loadGraph()
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ToTablesJSON(tables, g))
}

func (s *Server) handleEdges(w http.ResponseWriter, _ *http.Request) {
	edges, err := s.store.ListEdges()
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]EdgeJSON, len(edges))
	for i, e := range edges {
		out[i] = ToEdgeJSON(e)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	edges, err := s.store.ListColumnEdges(r.URL.Query().Get("table"))
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]ColumnEdgeJSON, len(edges))
	for i, e := range edges {
		out[i] = ColumnEdgeJSON(e)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	depth, err := intParam(r, "depth", 0)
	if err != nil || depth < 0 {
		s.writeJSON(w, http.StatusBadRequest, errorJSON{Error: "depth must be a non-negative integer"})
		return
	}
	direction := r.URL.Query().Get("direction")
	switch direction {
	case "", "both", "upstream", "downstream":
	default:
		s.writeJSON(w, http.StatusBadRequest, errorJSON{Error: "direction must be upstream, downstream or both"})
		return
	}

	g, _, err := s.loadGraph()
	if err != nil {
		s.internalError(w, err)
		return
	}
	root, ok := g.Lookup(table)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorJSON{Error: fmt.Sprintf("table not found: %s", table)})
		return
	}

	out := Lineage(g, root, direction != "downstream", direction != "upstream", depth)
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorJSON{Error: "limit must be an integer"})
		return
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]RunJSON, len(runs))
	for i, run := range runs {
		out[i] = ToRunJSON(run)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(chi.URLParam(r, "id"))
	if errors.Is(err, core.ErrRunNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorJSON{Error: err.Error()})
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ToRunJSON(run))
}

// handleEvents streams a "lineage-updated" event after each refresh.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ch := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprint(w, "event: lineage-updated\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}

// Lineage walks g from root and returns the tables reached and the edges
// between them. depth 0 means unlimited.
func Lineage(g *dag.Graph, root *dag.Node, upstream, downstream bool, depth int) LineageJSON {
	out := LineageJSON{
		Root:       HopJSON{Key: root.Key, Name: root.Name},
		Upstream:   []HopJSON{},
		Downstream: []HopJSON{},
		Edges:      []EdgeJSON{},
	}
	names := map[string]string{root.Key: root.Name}
	if upstream {
		for _, h := range g.Upstream(root.Key, depth) {
			out.Upstream = append(out.Upstream, HopJSON{Key: h.Key, Name: h.Name, Depth: h.Depth})
			names[h.Key] = h.Name
		}
	}
	if downstream {
		for _, h := range g.Downstream(root.Key, depth) {
			out.Downstream = append(out.Downstream, HopJSON{Key: h.Key, Name: h.Name, Depth: h.Depth})
			names[h.Key] = h.Name
		}
	}
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sub := g.Subgraph(keys)
	for _, e := range sub.Edges() {
		out.Edges = append(out.Edges, EdgeJSON{From: names[e.From], To: names[e.To], EvidenceCount: e.EvidenceCount})
	}
	if cyclic, path := sub.HasCycle(); cyclic {
		for _, k := range path {
			out.Cycle = append(out.Cycle, names[k])
		}
	}
	return out
}

func (s *Server) loadGraph() (*dag.Graph, []core.StoredTable, error) {
	tables, err := s.store.ListTables()
	if err != nil {
		return nil, nil, err
	}
	edges, err := s.store.ListEdges()
	if err != nil {
		return nil, nil, err
	}
	return dag.FromStored(tables, edges), tables, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", slog.String("error", err.Error()))
	s.writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "internal error"})
}
