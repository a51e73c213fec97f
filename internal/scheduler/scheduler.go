// Package scheduler fires recurring localization goals: cron entries declared
// in the daemon config, runtime entries added over the API, and
// event-triggered entries that react to bus traffic (re-localize when a goal
// fails, refresh a descriptor after an edge traversal, and so on).
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sextant-io/sextant/internal/events"
	"github.com/sextant-io/sextant/internal/executor"
)

// DefaultCooldown is the minimum spacing between two fires of the same entry
// unless the entry names its own.
const DefaultCooldown = 60 * time.Second

// GoalSubmitter dispatches a scheduled goal to a named executor. The
// registry satisfies it.
type GoalSubmitter interface {
	Submit(executorName string, g executor.Goal) (string, error)
}

// Config holds dependencies for the scheduler.
type Config struct {
	Submitter GoalSubmitter
	Bus       *events.Bus
	Store     *ScheduleStore     // nil-safe: API entries are not persisted without a store
	Declared  []DeclaredSchedule // cron entries from the daemon config
}

// runtimeEntry is the unified internal representation for all schedule entries.
type runtimeEntry struct {
	id     string
	source string // "config" or "api"
	name   string

	target string // executor name, empty for the default
	action executor.Action
	vertex int64
	edge   int64

	cron        *CronExpr
	intervalSec int
	onEvent     *EventTrigger

	cooldown  time.Duration
	maxRuns   int
	runCount  int
	enabled   bool
	createdAt time.Time
	lastRun   time.Time
}

// Scheduler drives cron, interval, and event-triggered goal submission.
type Scheduler struct {
	submitter GoalSubmitter
	bus       *events.Bus
	store     *ScheduleStore
	declared  []DeclaredSchedule

	mu      sync.Mutex
	entries map[string]*runtimeEntry

	done        chan struct{}
	unsubscribe func()
}

// New creates a new Scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		submitter: cfg.Submitter,
		bus:       cfg.Bus,
		store:     cfg.Store,
		declared:  cfg.Declared,
		entries:   make(map[string]*runtimeEntry),
		done:      make(chan struct{}),
	}
}

// Start loads declared and persisted entries and begins the tick loops and
// the event subscription.
func (s *Scheduler) Start() {
	s.loadDeclaredEntries()
	s.loadPersistedEntries()

	slog.Info("scheduler started", "entries", len(s.entries))

	// Loops and subscription always run: entries can be added at runtime.
	s.unsubscribe = s.bus.Subscribe(s.handleEvent)
	go s.cronLoop()
	go s.intervalLoop()
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	close(s.done)
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	slog.Info("scheduler stopped")
}

// AddEntry registers a schedule entry at runtime, persisting API-sourced
// entries when a store is configured.
func (s *Scheduler) AddEntry(se *ScheduleEntry) error {
	if se.CronSpec == "" && se.IntervalSec == 0 && se.OnEvent == nil {
		return fmt.Errorf("schedule entry needs a cron, interval, or on_event trigger")
	}
	if se.IntervalSec > 0 && se.IntervalSec < 5 {
		return fmt.Errorf("interval must be at least 5 seconds")
	}

	action, err := executor.ParseAction(se.Action)
	if err != nil {
		return err
	}
	switch {
	case action.IsControl():
		return fmt.Errorf("control action %s cannot be scheduled", action)
	case action == executor.ActionGetDissimilarity:
		return fmt.Errorf("%s cannot be scheduled: it compares a live descriptor pair", action)
	}

	if se.ID == "" {
		se.ID = GenerateScheduleID()
	}
	if se.Source == "" {
		se.Source = "api"
	}
	if se.CreatedAt.IsZero() {
		se.CreatedAt = time.Now()
	}
	// A freshly added entry is always live; disabling happens at runtime
	// (max_runs) or by removal.
	se.Enabled = true

	re := &runtimeEntry{
		id:          se.ID,
		source:      se.Source,
		name:        se.Name,
		target:      se.Executor,
		action:      action,
		vertex:      se.Vertex,
		edge:        se.Edge,
		intervalSec: se.IntervalSec,
		onEvent:     se.OnEvent,
		cooldown:    time.Duration(se.CooldownSec) * time.Second,
		maxRuns:     se.MaxRuns,
		runCount:    se.RunCount,
		enabled:     true,
	}

	if se.CronSpec != "" {
		expr, err := ParseCron(se.CronSpec)
		if err != nil {
			return err
		}
		re.cron = expr
	}

	if re.cooldown == 0 {
		re.cooldown = DefaultCooldown
	}

	if s.store != nil && se.Source == "api" {
		if err := s.store.Create(se); err != nil {
			return fmt.Errorf("persist schedule: %w", err)
		}
	}
	re.createdAt = se.CreatedAt

	s.mu.Lock()
	s.entries[se.ID] = re
	s.mu.Unlock()

	slog.Info("scheduler: added entry", "id", se.ID, "name", se.Name, "action", se.Action)
	return nil
}

// RemoveEntry removes a schedule entry by ID.
func (s *Scheduler) RemoveEntry(id string) error {
	s.mu.Lock()
	re, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("schedule entry not found: %s", id)
	}
	delete(s.entries, id)
	s.mu.Unlock()

	if s.store != nil && re.source == "api" {
		if err := s.store.Delete(id); err != nil {
			slog.Warn("scheduler: failed to delete persisted entry", "id", id, "error", err)
		}
	}

	slog.Info("scheduler: removed entry", "id", id)
	return nil
}

// GetEntry returns a schedule entry by ID.
func (s *Scheduler) GetEntry(id string) (*ScheduleEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	re, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return runtimeToScheduleEntry(re), true
}

// ListEntries returns a snapshot of all schedule entries.
func (s *Scheduler) ListEntries() []*ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*ScheduleEntry, 0, len(s.entries))
	for _, re := range s.entries {
		result = append(result, runtimeToScheduleEntry(re))
	}
	return result
}

func runtimeToScheduleEntry(re *runtimeEntry) *ScheduleEntry {
	se := &ScheduleEntry{
		ID:          re.id,
		Name:        re.name,
		Source:      re.source,
		Executor:    re.target,
		Action:      string(re.action),
		Vertex:      re.vertex,
		Edge:        re.edge,
		IntervalSec: re.intervalSec,
		OnEvent:     re.onEvent,
		CooldownSec: int(re.cooldown / time.Second),
		MaxRuns:     re.maxRuns,
		RunCount:    re.runCount,
		Enabled:     re.enabled,
		CreatedAt:   re.createdAt,
	}
	if re.cron != nil {
		se.CronSpec = re.cron.String()
	}
	if !re.lastRun.IsZero() {
		t := re.lastRun
		se.LastRunAt = &t
	}
	return se
}

// loadDeclaredEntries populates entries from the daemon config.
func (s *Scheduler) loadDeclaredEntries() {
	for _, d := range s.declared {
		action, err := executor.ParseAction(d.Action)
		if err != nil {
			slog.Warn("scheduler: invalid action in declared schedule", "name", d.Name, "error", err)
			continue
		}
		if action.IsControl() || action == executor.ActionGetDissimilarity {
			slog.Warn("scheduler: action cannot be scheduled", "name", d.Name, "action", d.Action)
			continue
		}

		expr, err := ParseCron(d.Cron)
		if err != nil {
			slog.Warn("scheduler: invalid cron in declared schedule", "name", d.Name, "error", err)
			continue
		}

		id := "config_" + d.Name
		s.entries[id] = &runtimeEntry{
			id:       id,
			source:   "config",
			name:     d.Name,
			target:   d.Executor,
			action:   action,
			vertex:   d.Vertex,
			edge:     d.Edge,
			cron:     expr,
			cooldown: DefaultCooldown,
			enabled:  true,
		}

		slog.Info("scheduler: registered declared schedule", "name", d.Name,
			"cron", d.Cron, "action", d.Action)
	}
}

// loadPersistedEntries loads API-added entries from the store (if available).
func (s *Scheduler) loadPersistedEntries() {
	if s.store == nil {
		return
	}

	entries, err := s.store.List()
	if err != nil {
		slog.Warn("scheduler: failed to load persisted entries", "error", err)
		return
	}

	for _, se := range entries {
		if !se.Enabled {
			continue
		}

		action, err := executor.ParseAction(se.Action)
		if err != nil {
			slog.Warn("scheduler: invalid action in persisted entry", "id", se.ID, "error", err)
			continue
		}

		re := &runtimeEntry{
			id:          se.ID,
			source:      se.Source,
			name:        se.Name,
			target:      se.Executor,
			action:      action,
			vertex:      se.Vertex,
			edge:        se.Edge,
			intervalSec: se.IntervalSec,
			onEvent:     se.OnEvent,
			cooldown:    time.Duration(se.CooldownSec) * time.Second,
			maxRuns:     se.MaxRuns,
			runCount:    se.RunCount,
			enabled:     true,
			createdAt:   se.CreatedAt,
		}

		if se.CronSpec != "" {
			expr, err := ParseCron(se.CronSpec)
			if err != nil {
				slog.Warn("scheduler: invalid cron in persisted entry", "id", se.ID, "error", err)
				continue
			}
			re.cron = expr
		}

		if re.cooldown == 0 {
			re.cooldown = DefaultCooldown
		}

		s.entries[se.ID] = re
		slog.Info("scheduler: loaded persisted entry", "id", se.ID, "name", se.Name)
	}
}

func (s *Scheduler) cronLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.checkCron(now)
		}
	}
}

func (s *Scheduler) intervalLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.checkIntervals(now)
		}
	}
}

func (s *Scheduler) checkCron(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries {
		if entry.cron == nil || !entry.enabled {
			continue
		}
		if !entry.cron.Matches(now) {
			continue
		}
		if now.Sub(entry.lastRun) < entry.cooldown {
			continue
		}

		s.fireEntry(entry, "cron")
	}
}

func (s *Scheduler) checkIntervals(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries {
		if entry.intervalSec <= 0 || !entry.enabled {
			continue
		}
		interval := time.Duration(entry.intervalSec) * time.Second
		if now.Sub(entry.lastRun) < interval {
			continue
		}

		s.fireEntry(entry, "interval")
	}
}

func (s *Scheduler) handleEvent(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, entry := range s.entries {
		if entry.onEvent == nil || !entry.enabled {
			continue
		}
		if !MatchEvent(e, entry.onEvent) {
			continue
		}
		if now.Sub(entry.lastRun) < entry.cooldown {
			continue
		}

		s.fireEntry(entry, "event:"+string(e.Type))
	}
}

// fireEntry submits the entry's goal. Caller must hold s.mu.
func (s *Scheduler) fireEntry(re *runtimeEntry, trigger string) {
	re.lastRun = time.Now()
	re.runCount++

	goal := executor.Goal{
		Action: re.action,
		Vertex: re.vertex,
		Edge:   re.edge,
	}

	goalID, err := s.submitter.Submit(re.target, goal)
	if err != nil {
		slog.Error("scheduler: submit goal", "id", re.id, "error", err)
		return
	}

	if s.store != nil && re.source == "api" {
		s.updateStoredEntry(re)
	}

	// Auto-disable at max runs.
	if re.maxRuns > 0 && re.runCount >= re.maxRuns {
		re.enabled = false
		slog.Info("scheduler: entry reached max runs, disabled", "id", re.id, "runs", re.runCount)
		if s.store != nil && re.source == "api" {
			s.updateStoredEntry(re)
		}
	}

	s.bus.Publish(events.NewTypedEventFor(events.SourceScheduler, events.ScheduleFiredPayload{
		EntryID:   re.id,
		EntryName: re.name,
		Executor:  re.target,
		GoalID:    goalID,
		Action:    string(re.action),
	}, re.target))

	slog.Info("scheduler: fired", "id", re.id, "trigger", trigger, "goal_id", goalID)
}

// updateStoredEntry persists runtime state back to the store. Caller must
// hold s.mu.
func (s *Scheduler) updateStoredEntry(re *runtimeEntry) {
	se := runtimeToScheduleEntry(re)
	if err := s.store.Update(se); err != nil {
		slog.Warn("scheduler: failed to update persisted entry", "id", re.id, "error", err)
	}
}
