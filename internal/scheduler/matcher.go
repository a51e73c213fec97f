package scheduler

import (
	"github.com/sextant-io/sextant/internal/events"
)

// MatchEvent reports whether the event satisfies the trigger. Events the
// scheduler emitted itself never match, so a fired entry cannot retrigger
// through its own bus traffic.
func MatchEvent(e events.Event, trigger *EventTrigger) bool {
	if trigger == nil {
		return false
	}

	if e.Source == events.SourceScheduler {
		return false
	}

	if string(e.Type) != trigger.Event {
		return false
	}

	// Every filter key must be present in the payload with the expected
	// string value.
	for key, expected := range trigger.Filter {
		val, ok := e.Payload[key]
		if !ok {
			return false
		}
		strVal, ok := val.(string)
		if !ok || strVal != expected {
			return false
		}
	}

	return true
}
