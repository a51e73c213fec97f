package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sextant-io/sextant/internal/events"
	"github.com/sextant-io/sextant/internal/executor"
	"github.com/sextant-io/sextant/internal/journal"
	"github.com/sextant-io/sextant/internal/metrics"
	"github.com/sextant-io/sextant/internal/registry"
	"github.com/sextant-io/sextant/internal/scheduler"
	"github.com/sextant-io/sextant/internal/storage"
	"github.com/sextant-io/sextant/internal/strategy"
)

type testEnv struct {
	srv *Server
	bus *events.Bus
	reg *registry.Registry
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(func() { bus.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.New(registry.Config{Default: "nav", Bus: bus, Logger: logger})
	_, err := reg.Register(registry.Spec{Name: "nav", Strategy: "sim"},
		strategy.NewSim("nav", map[string]any{"slice_ms": 5}, logger))
	if err != nil {
		t.Fatalf("register executor: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		reg.Close(ctx)
	})

	jrnl, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), logger)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	jrnl.Attach(bus)
	t.Cleanup(func() { jrnl.Close() })

	sched := scheduler.New(scheduler.Config{Submitter: reg, Bus: bus})
	sched.Start()
	t.Cleanup(sched.Stop)

	trace := storage.NewTraceLog(t.TempDir(), bus)
	t.Cleanup(trace.Close)

	promReg := prometheus.NewRegistry()
	obs := metrics.NewObserver(metrics.MustNew(promReg), bus)
	t.Cleanup(obs.Close)

	srv := NewServer(Config{
		Host:      "localhost",
		Port:      0,
		Bus:       bus,
		Registry:  reg,
		Journal:   jrnl,
		Scheduler: sched,
		Trace:     trace,
		Metrics:   promReg,
	})
	t.Cleanup(srv.hub.Close)

	return &testEnv{srv: srv, bus: bus, reg: reg}
}

// do drives the router directly; no listener is needed.
func (te *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	te.srv.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func (te *testEnv) waitForState(t *testing.T, name string, want executor.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := te.reg.Status(name)
		if err == nil && st.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("executor %s never reached state %s", name, want)
}

// waitGoalDone polls the goal detail endpoint until the journal shows a
// terminal status.
func (te *testEnv) waitGoalDone(t *testing.T, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		w := te.do(t, http.MethodGet, "/api/goals/"+id, nil)
		if w.Code == http.StatusOK {
			var detail struct {
				Goal map[string]any `json:"goal"`
			}
			if err := json.NewDecoder(w.Body).Decode(&detail); err == nil {
				if st, _ := detail.Goal["status"].(string); st != "" {
					return detail.Goal
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("goal %s never reached a terminal status", id)
	return nil
}

// waitGoalStatus polls until the journal shows the wanted status. The
// journal upserts results, so an interrupted goal's row reads "preempted"
// until the resumed run finishes.
func (te *testEnv) waitGoalStatus(t *testing.T, id, want string) {
	t.Helper()
	last := ""
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		w := te.do(t, http.MethodGet, "/api/goals/"+id, nil)
		if w.Code == http.StatusOK {
			var detail struct {
				Goal map[string]any `json:"goal"`
			}
			if err := json.NewDecoder(w.Body).Decode(&detail); err == nil {
				last, _ = detail.Goal["status"].(string)
				if last == want {
					return
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("goal %s never reached status %q (last %q)", id, want, last)
}

// waitForEvents polls the bus history until at least n events are present.
func waitForEvents(bus *events.Bus, n int) {
	for i := 0; i < 200; i++ {
		if len(bus.History(100)) >= n {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

func TestHandleHealth(t *testing.T) {
	te := newTestServer(t)

	w := te.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status %q, got %q", "ok", body["status"])
	}
}

func TestHandleStatus(t *testing.T) {
	te := newTestServer(t)

	w := te.do(t, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("expected 1 executor, got %d", len(body))
	}
	if body[0]["name"] != "nav" {
		t.Fatalf("expected executor %q, got %q", "nav", body[0]["name"])
	}
	if body[0]["state"] != "idle" {
		t.Fatalf("expected state %q, got %q", "idle", body[0]["state"])
	}
}

func TestSubmitGoal_Accepted(t *testing.T) {
	te := newTestServer(t)

	w := te.do(t, http.MethodPost, "/api/goals", map[string]any{
		"executor": "nav",
		"action":   "GET_VERTEX_DESCRIPTOR",
		"vertex":   4,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["goal_id"] == "" {
		t.Fatal("expected a goal_id")
	}

	goal := te.waitGoalDone(t, body["goal_id"])
	if goal["status"] != "success" {
		t.Fatalf("expected status %q, got %q", "success", goal["status"])
	}
}

func TestSubmitGoal_UnknownAction(t *testing.T) {
	te := newTestServer(t)

	w := te.do(t, http.MethodPost, "/api/goals", map[string]any{
		"action": "TELEPORT",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestSubmitGoal_MissingDescriptors(t *testing.T) {
	te := newTestServer(t)

	w := te.do(t, http.MethodPost, "/api/goals", map[string]any{
		"action": "GET_DISSIMILARITY",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestSubmitGoal_UnknownExecutor(t *testing.T) {
	te := newTestServer(t)

	w := te.do(t, http.MethodPost, "/api/goals", map[string]any{
		"executor": "ghost",
		"action":   "GET_VERTEX_DESCRIPTOR",
		"vertex":   1,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestInterruptResumeOverREST(t *testing.T) {
	te := newTestServer(t)

	w := te.do(t, http.MethodPost, "/api/goals", map[string]any{
		"action": "LOCALIZE_IN_VERTEX",
		"vertex": 9,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit: expected status 202, got %d", w.Code)
	}
	var submitted map[string]string
	if err := json.NewDecoder(w.Body).Decode(&submitted); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	goalID := submitted["goal_id"]

	te.waitForState(t, "nav", executor.StateRunning)

	w = te.do(t, http.MethodPost, "/api/interrupt", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("interrupt: expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	te.waitForState(t, "nav", executor.StateInterrupted)

	w = te.do(t, http.MethodPost, "/api/resume", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("resume: expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	te.waitGoalStatus(t, goalID, "success")
	te.waitForState(t, "nav", executor.StateIdle)
}

func TestGoalDetailTransitions(t *testing.T) {
	te := newTestServer(t)

	w := te.do(t, http.MethodPost, "/api/goals", map[string]any{
		"action": "GET_VERTEX_DESCRIPTOR",
		"vertex": 2,
	})
	var submitted map[string]string
	json.NewDecoder(w.Body).Decode(&submitted)
	te.waitGoalDone(t, submitted["goal_id"])

	// Transitions land on their own bus handler; wait for the full chain.
	var transitions []map[string]any
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp := te.do(t, http.MethodGet, "/api/goals/"+submitted["goal_id"], nil)
		var detail struct {
			Transitions []map[string]any `json:"transitions"`
		}
		json.NewDecoder(resp.Body).Decode(&detail)
		if len(detail.Transitions) >= 3 {
			transitions = detail.Transitions
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(transitions) < 3 {
		t.Fatalf("expected at least 3 transitions, got %d", len(transitions))
	}
	if transitions[0]["from"] != "idle" || transitions[0]["to"] != "running" {
		t.Fatalf("unexpected first transition: %v", transitions[0])
	}
	last := transitions[len(transitions)-1]
	if last["to"] != "idle" {
		t.Fatalf("expected final transition to idle, got %v", last)
	}
}

func TestGoalDetail_NotFound(t *testing.T) {
	te := newTestServer(t)

	w := te.do(t, http.MethodGet, "/api/goals/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestHandleHistory(t *testing.T) {
	te := newTestServer(t)

	w := te.do(t, http.MethodPost, "/api/goals", map[string]any{
		"action": "GET_VERTEX_DESCRIPTOR",
		"vertex": 7,
	})
	var submitted map[string]string
	json.NewDecoder(w.Body).Decode(&submitted)
	te.waitGoalDone(t, submitted["goal_id"])

	w = te.do(t, http.MethodGet, "/api/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var list []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 goal in history, got %d", len(list))
	}
	if list[0]["id"] != submitted["goal_id"] {
		t.Fatalf("expected goal %q, got %q", submitted["goal_id"], list[0]["id"])
	}
}

func TestHandleEvents_WithHistory(t *testing.T) {
	te := newTestServer(t)

	te.bus.Publish(events.NewTypedEventFor(events.SourceTransport, events.GoalReceivedPayload{
		GoalID: "g1", Action: "LOCALIZE_EDGE", Edge: 3,
	}, "nav"))
	te.bus.Publish(events.NewTypedEventFor(events.SourceExecutor, events.StateChangedPayload{
		From: "idle", To: "running", Cause: "LOCALIZE_EDGE", GoalID: "g1",
	}, "nav"))

	waitForEvents(te.bus, 2)

	w := te.do(t, http.MethodGet, "/api/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) < 2 {
		t.Fatalf("expected at least 2 events, got %d", len(body))
	}
}

func TestHandleEvents_LimitParam(t *testing.T) {
	te := newTestServer(t)

	for i := 0; i < 10; i++ {
		te.bus.Publish(events.NewTypedEventFor(events.SourceExecutor, events.FeedbackPayload{
			GoalID: "g1", Completion: float64(i) / 10,
		}, "nav"))
	}

	waitForEvents(te.bus, 10)

	w := te.do(t, http.MethodGet, "/api/events?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 5 {
		t.Fatalf("expected 5 events with limit=5, got %d", len(body))
	}
}

func TestHandleTrace(t *testing.T) {
	te := newTestServer(t)

	te.bus.Publish(events.NewTypedEventFor(events.SourceExecutor, events.StateChangedPayload{
		From: "idle", To: "running", GoalID: "g9",
	}, "nav"))
	time.Sleep(100 * time.Millisecond)

	// limit=1 keeps only the newest entry; setup events from registration
	// may or may not have reached the trace before it subscribed.
	w := te.do(t, http.MethodGet, "/api/trace/nav?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var list []events.Event
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 traced event, got %d", len(list))
	}
	if list[0].Type != events.EventStateChanged {
		t.Fatalf("expected %s, got %s", events.EventStateChanged, list[0].Type)
	}
}

func TestScheduleCRUD(t *testing.T) {
	te := newTestServer(t)

	w := te.do(t, http.MethodPost, "/api/schedules", map[string]any{
		"name":      "nightly",
		"action":    "GET_VERTEX_DESCRIPTOR",
		"vertex":    2,
		"cron_spec": "0 3 * * *",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created map[string]any
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("expected an assigned schedule id")
	}

	w = te.do(t, http.MethodGet, "/api/schedules", nil)
	var list []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(list))
	}

	w = te.do(t, http.MethodDelete, "/api/schedules/"+id, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}

	w = te.do(t, http.MethodGet, "/api/schedules", nil)
	list = nil
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 0 {
		t.Fatalf("expected no schedules after delete, got %d", len(list))
	}
}

func TestAddSchedule_Invalid(t *testing.T) {
	te := newTestServer(t)

	// No cron, interval, or event trigger.
	w := te.do(t, http.MethodPost, "/api/schedules", map[string]any{
		"name":   "untriggered",
		"action": "GET_VERTEX_DESCRIPTOR",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	te := newTestServer(t)

	w := te.do(t, http.MethodPost, "/api/goals", map[string]any{
		"action": "GET_VERTEX_DESCRIPTOR",
		"vertex": 1,
	})
	var submitted map[string]string
	json.NewDecoder(w.Body).Decode(&submitted)
	te.waitGoalDone(t, submitted["goal_id"])
	time.Sleep(100 * time.Millisecond) // metrics observer runs on its own handler

	w = te.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "sextant_executor_goals_received_total") {
		t.Fatal("expected goals_received counter in scrape output")
	}
	if !strings.Contains(body, "sextant_executor_run_duration_seconds") {
		t.Fatal("expected run_duration histogram in scrape output")
	}
}

func TestSchedulesUnavailable(t *testing.T) {
	bus := events.NewBus(16)
	t.Cleanup(func() { bus.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(registry.Config{Bus: bus, Logger: logger})

	srv := NewServer(Config{Host: "localhost", Bus: bus, Registry: reg})
	t.Cleanup(srv.hub.Close)

	req := httptest.NewRequest(http.MethodGet, "/api/schedules", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 with metrics disabled, got %d", w.Code)
	}
}
