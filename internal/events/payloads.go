package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// GOAL LIFECYCLE EVENTS
// =============================================================================

type GoalReceivedPayload struct {
	GoalID string `json:"goal_id"`
	Action string `json:"action"`
	Vertex int64  `json:"vertex,omitempty"`
	Edge   int64  `json:"edge,omitempty"`
}

func (GoalReceivedPayload) EventType() EventType { return EventGoalReceived }

type StateChangedPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Cause  string `json:"cause"`
	GoalID string `json:"goal_id,omitempty"`
}

func (StateChangedPayload) EventType() EventType { return EventStateChanged }

// =============================================================================
// EXECUTION OUTPUT EVENTS
// =============================================================================

type FeedbackPayload struct {
	GoalID      string  `json:"goal_id"`
	TimeElapsed float64 `json:"time_elapsed"`
	Completion  float64 `json:"completion"`
	Message     string  `json:"message,omitempty"`
}

func (FeedbackPayload) EventType() EventType { return EventFeedback }

type ResultPayload struct {
	GoalID   string  `json:"goal_id"`
	Action   string  `json:"action"`
	Status   string  `json:"status"`
	Reason   string  `json:"reason,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

func (ResultPayload) EventType() EventType { return EventResult }

// ResultDroppedPayload reports a result discarded because its run was
// superseded before completion.
type ResultDroppedPayload struct {
	GoalID string `json:"goal_id"`
	Action string `json:"action"`
	Status string `json:"status"`
}

func (ResultDroppedPayload) EventType() EventType { return EventResultDropped }

type HookFaultPayload struct {
	GoalID string `json:"goal_id"`
	Action string `json:"action"`
	Panic  string `json:"panic"`
}

func (HookFaultPayload) EventType() EventType { return EventHookFault }

// =============================================================================
// SCHEDULER EVENTS
// =============================================================================

type ScheduleFiredPayload struct {
	EntryID   string `json:"entry_id"`
	EntryName string `json:"entry_name"`
	Executor  string `json:"executor"`
	GoalID    string `json:"goal_id"`
	Action    string `json:"action"`
}

func (ScheduleFiredPayload) EventType() EventType { return EventScheduleFired }

// =============================================================================
// REGISTRY EVENTS
// =============================================================================

type ExecutorRegisteredPayload struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
}

func (ExecutorRegisteredPayload) EventType() EventType { return EventExecutorRegistered }

type ExecutorClosedPayload struct {
	Name string `json:"name"`
}

func (ExecutorClosedPayload) EventType() EventType { return EventExecutorClosed }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

// NewTypedEventFor attributes the event to a named executor.
func NewTypedEventFor(source EventSource, payload EventPayload, executor string) Event {
	return Event{
		ID:        generateEventID(),
		Executor:  executor,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetGoalReceivedPayload(e Event) (GoalReceivedPayload, bool) {
	return ExtractPayload[GoalReceivedPayload](e)
}

func GetStateChangedPayload(e Event) (StateChangedPayload, bool) {
	return ExtractPayload[StateChangedPayload](e)
}

func GetFeedbackPayload(e Event) (FeedbackPayload, bool) {
	return ExtractPayload[FeedbackPayload](e)
}

func GetResultPayload(e Event) (ResultPayload, bool) {
	return ExtractPayload[ResultPayload](e)
}

func GetResultDroppedPayload(e Event) (ResultDroppedPayload, bool) {
	return ExtractPayload[ResultDroppedPayload](e)
}

func GetHookFaultPayload(e Event) (HookFaultPayload, bool) {
	return ExtractPayload[HookFaultPayload](e)
}

func GetScheduleFiredPayload(e Event) (ScheduleFiredPayload, bool) {
	return ExtractPayload[ScheduleFiredPayload](e)
}

func GetExecutorRegisteredPayload(e Event) (ExecutorRegisteredPayload, bool) {
	return ExtractPayload[ExecutorRegisteredPayload](e)
}
