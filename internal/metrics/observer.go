package metrics

import (
	"time"

	"github.com/sextant-io/sextant/internal/events"
)

// Observer feeds the collectors from bus events so instrumented packages
// never import prometheus directly.
type Observer struct {
	m           *Metrics
	unsubscribe func()
}

// NewObserver subscribes the metrics collectors to the bus.
func NewObserver(m *Metrics, bus *events.Bus) *Observer {
	o := &Observer{m: m}
	o.unsubscribe = bus.Subscribe(o.handleEvent,
		events.EventGoalReceived,
		events.EventResult,
		events.EventResultDropped,
		events.EventHookFault,
		events.EventStateChanged,
		events.EventScheduleFired,
	)
	return o
}

// Close unsubscribes the observer from the event bus.
func (o *Observer) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

func (o *Observer) handleEvent(e events.Event) {
	switch e.Type {
	case events.EventGoalReceived:
		if p, ok := events.GetGoalReceivedPayload(e); ok {
			o.m.IncGoalReceived(e.Executor, p.Action)
		}
	case events.EventResult:
		if p, ok := events.GetResultPayload(e); ok {
			o.m.ObserveResult(e.Executor, p.Action, p.Status,
				time.Duration(p.Duration*float64(time.Second)))
		}
	case events.EventResultDropped:
		o.m.IncResultDropped(e.Executor)
	case events.EventHookFault:
		if p, ok := events.GetHookFaultPayload(e); ok {
			o.m.IncHookFault(e.Executor, p.Action)
		}
	case events.EventStateChanged:
		if p, ok := events.GetStateChangedPayload(e); ok {
			o.m.SetState(e.Executor, p.From, p.To)
		}
	case events.EventScheduleFired:
		if p, ok := events.GetScheduleFiredPayload(e); ok {
			o.m.IncScheduleFired(p.EntryName, p.Executor)
		}
	}
}
