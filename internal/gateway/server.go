// Package gateway exposes the daemon over HTTP: a REST API for goal and
// schedule operations, a WebSocket hub for event streaming, and the
// Prometheus scrape endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sextant-io/sextant/internal/events"
	"github.com/sextant-io/sextant/internal/executor"
	"github.com/sextant-io/sextant/internal/gateway/ws"
	"github.com/sextant-io/sextant/internal/journal"
	"github.com/sextant-io/sextant/internal/registry"
	"github.com/sextant-io/sextant/internal/scheduler"
	"github.com/sextant-io/sextant/internal/storage"
)

// Config wires the gateway's dependencies. Journal, Scheduler, Trace, and
// Metrics are optional; a nil field disables the surfaces that need it.
type Config struct {
	Host      string
	Port      int
	Bus       *events.Bus
	Registry  *registry.Registry
	Journal   *journal.Journal
	Scheduler *scheduler.Scheduler
	Trace     *storage.TraceLog
	Metrics   prometheus.Gatherer
}

// Server is the sextant gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	handler    *GoalHandler
	trace      *storage.TraceLog
}

// NewServer creates a new gateway server.
func NewServer(cfg Config) *Server {
	handler := NewGoalHandler(cfg.Registry, cfg.Journal, cfg.Scheduler)
	hub := ws.NewHub(cfg.Bus, handler)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:     hub,
		bus:     cfg.Bus,
		handler: handler,
		trace:   cfg.Trace,
	}

	// Routes
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/status", s.handleStatus)
	r.Post("/api/goals", s.handleSubmitGoal)
	r.Get("/api/goals/{id}", s.handleGoalDetail)
	r.Post("/api/interrupt", s.handleInterrupt)
	r.Post("/api/resume", s.handleResume)
	r.Get("/api/history", s.handleHistory)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/trace", s.handleTrace)
	r.Get("/api/trace/{executor}", s.handleTrace)
	r.Get("/api/schedules", s.handleSchedules)
	r.Post("/api/schedules", s.handleAddSchedule)
	r.Delete("/api/schedules/{id}", s.handleRemoveSchedule)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r,
	}

	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("sextant gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.handler.Statuses())
}

func (s *Server) handleSubmitGoal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Executor string `json:"executor"`
		executor.Goal
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := s.handler.Submit(req.Executor, req.Goal)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"goal_id": id})
}

func (s *Server) handleGoalDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.handler.GoalDetail(chi.URLParam(r, "id"))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, journal.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, ErrHistoryUnavailable):
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, detail)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	id, err := s.handler.Interrupt(decodeExecutor(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"goal_id": id})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, err := s.handler.Resume(decodeExecutor(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"goal_id": id})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	list, err := s.handler.History(queryLimit(r, 50))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrHistoryUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, list)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	history := s.bus.History(queryLimit(r, 50))

	// Format timestamps nicely
	type eventJSON struct {
		ID        string             `json:"id"`
		Executor  string             `json:"executor,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			Executor:  e.Executor,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}

	writeJSON(w, result)
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	if s.trace == nil {
		http.Error(w, "event trace not available", http.StatusServiceUnavailable)
		return
	}

	list, err := s.trace.Events(chi.URLParam(r, "executor"), queryLimit(r, 100))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.handler.Schedules()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, list)
}

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := s.handler.AddSchedule(raw)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrSchedulerUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}

func (s *Server) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.handler.RemoveSchedule(chi.URLParam(r, "id")); err != nil {
		status := http.StatusNotFound
		if errors.Is(err, ErrSchedulerUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// decodeExecutor reads the optional executor name from a request body. An
// empty or absent body targets the default executor.
func decodeExecutor(r *http.Request) string {
	var req struct {
		Executor string `json:"executor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ""
	}
	return req.Executor
}

func queryLimit(r *http.Request, def int) int {
	limit := def
	if s := r.URL.Query().Get("limit"); s != "" {
		fmt.Sscanf(s, "%d", &limit)
	}
	return limit
}
