package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// EventTrigger fires a schedule entry when a matching bus event arrives.
// Filter values are compared against the string fields of the event payload,
// so {"status": "failure"} on result.emitted means "only failed goals".
type EventTrigger struct {
	Event  string            `json:"event"`
	Filter map[string]string `json:"filter,omitempty"`
}

// ScheduleEntry is a recurring goal: a trigger (cron, interval, or event)
// plus the goal fields submitted on each fire. Config-declared entries live
// only in memory; API-added entries persist through the ScheduleStore.
type ScheduleEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source"` // "config" or "api"

	// Executor names the target instance; empty means the default executor.
	Executor string `json:"executor,omitempty"`
	Action   string `json:"action"`
	Vertex   int64  `json:"vertex,omitempty"`
	Edge     int64  `json:"edge,omitempty"`

	CronSpec    string        `json:"cron_spec,omitempty"`
	IntervalSec int           `json:"interval_sec,omitempty"`
	OnEvent     *EventTrigger `json:"on_event,omitempty"`

	CooldownSec int  `json:"cooldown_sec"`
	MaxRuns     int  `json:"max_runs,omitempty"`
	RunCount    int  `json:"run_count"`
	Enabled     bool `json:"enabled"`

	CreatedAt time.Time  `json:"created_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// DeclaredSchedule carries the scheduling data declared in the daemon
// config. It keeps this package decoupled from the config package.
type DeclaredSchedule struct {
	Name     string
	Cron     string
	Executor string
	Action   string
	Vertex   int64
	Edge     int64
}

// GenerateScheduleID creates a unique schedule identifier with "sched_" prefix.
func GenerateScheduleID() string {
	u := uuid.New().String()
	return "sched_" + u[:8]
}
