package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sextant-io/sextant/internal/executor"
	"github.com/sextant-io/sextant/internal/journal"
	"github.com/sextant-io/sextant/internal/registry"
	"github.com/sextant-io/sextant/internal/scheduler"
)

var (
	// ErrHistoryUnavailable is returned when the journal is disabled.
	ErrHistoryUnavailable = errors.New("gateway: goal history is disabled")

	// ErrSchedulerUnavailable is returned when no scheduler is running.
	ErrSchedulerUnavailable = errors.New("gateway: scheduler is not running")
)

// GoalHandler implements ws.GoalHandler over the registry, journal, and
// scheduler. The REST handlers share it.
type GoalHandler struct {
	reg   *registry.Registry
	jrnl  *journal.Journal
	sched *scheduler.Scheduler
}

// NewGoalHandler creates a goal handler. Journal and scheduler may be nil;
// the surfaces that need them report unavailable.
func NewGoalHandler(reg *registry.Registry, jrnl *journal.Journal, sched *scheduler.Scheduler) *GoalHandler {
	return &GoalHandler{reg: reg, jrnl: jrnl, sched: sched}
}

// Submit validates a goal and routes it to the named executor. Only
// malformed goals are rejected here; lifecycle refusals (an interrupted goal
// pending, executor closed) still arrive asynchronously as failure results.
func (h *GoalHandler) Submit(executorName string, g executor.Goal) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	return h.reg.Submit(executorName, g)
}

// Interrupt submits an INTERRUPT goal to the named executor.
func (h *GoalHandler) Interrupt(executorName string) (string, error) {
	return h.reg.Submit(executorName, executor.Goal{Action: executor.ActionInterrupt})
}

// Resume submits a CONTINUE goal to the named executor.
func (h *GoalHandler) Resume(executorName string) (string, error) {
	return h.reg.Submit(executorName, executor.Goal{Action: executor.ActionContinue})
}

// Statuses reports every executor's current state.
func (h *GoalHandler) Statuses() any {
	return h.reg.Statuses()
}

// History returns the most recently submitted goals, newest first.
func (h *GoalHandler) History(limit int) (any, error) {
	if h.jrnl == nil {
		return nil, ErrHistoryUnavailable
	}
	return h.jrnl.RecentGoals(limit)
}

type goalDetail struct {
	Goal        journal.GoalRecord         `json:"goal"`
	Transitions []journal.TransitionRecord `json:"transitions"`
}

// GoalDetail returns one goal's journal row with its state transitions.
func (h *GoalHandler) GoalDetail(id string) (any, error) {
	if h.jrnl == nil {
		return nil, ErrHistoryUnavailable
	}
	rec, err := h.jrnl.Goal(id)
	if err != nil {
		return nil, err
	}
	trs, err := h.jrnl.Transitions(id)
	if err != nil {
		return nil, err
	}
	return goalDetail{Goal: rec, Transitions: trs}, nil
}

// Schedules lists the scheduler's entries.
func (h *GoalHandler) Schedules() (any, error) {
	if h.sched == nil {
		return nil, ErrSchedulerUnavailable
	}
	return h.sched.ListEntries(), nil
}

// AddSchedule decodes and registers a new schedule entry, returning it with
// its assigned ID.
func (h *GoalHandler) AddSchedule(raw json.RawMessage) (any, error) {
	if h.sched == nil {
		return nil, ErrSchedulerUnavailable
	}
	var entry scheduler.ScheduleEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if err := h.sched.AddEntry(&entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// RemoveSchedule deletes a schedule entry by ID.
func (h *GoalHandler) RemoveSchedule(id string) error {
	if h.sched == nil {
		return ErrSchedulerUnavailable
	}
	return h.sched.RemoveEntry(id)
}
