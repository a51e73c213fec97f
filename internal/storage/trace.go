// Package storage persists the raw bus event stream to disk. The journal
// keeps a queryable record of goals and outcomes; the trace keeps everything
// else, one JSONL file per executor, for post-mortem debugging of the
// interrupt/resume dance.
package storage

import (
	"github.com/sextant-io/sextant/internal/events"
	"github.com/sextant-io/sextant/internal/storage/dirstore"
)

const traceFile = "events.jsonl"

// globalTrace collects events that carry no executor attribution.
const globalTrace = "_global"

// TraceLog subscribes to all bus events and appends them as JSONL, grouped
// by the executor they belong to.
type TraceLog struct {
	ds          *dirstore.DirStore
	bus         *events.Bus
	unsubscribe func()
}

// NewTraceLog creates a TraceLog rooted at dir and subscribes it to the bus.
func NewTraceLog(dir string, bus *events.Bus) *TraceLog {
	tl := &TraceLog{
		ds:  dirstore.New(dir, "trace"),
		bus: bus,
	}
	tl.unsubscribe = bus.Subscribe(tl.handleEvent)
	return tl
}

// Close unsubscribes the trace from the event bus.
func (tl *TraceLog) Close() {
	if tl.unsubscribe != nil {
		tl.unsubscribe()
	}
}

func (tl *TraceLog) handleEvent(e events.Event) {
	// Feedback arrives at slice cadence; too noisy for a persistent trace.
	// The result row carries the final completion.
	if e.Type == events.EventFeedback {
		return
	}
	_ = tl.writeEvent(e)
}

func (tl *TraceLog) writeEvent(e events.Event) error {
	tl.ds.Lock()
	defer tl.ds.Unlock()

	id := tl.traceID(e.Executor)
	if err := tl.ds.EnsureDir(id); err != nil {
		return err
	}
	return tl.ds.AppendJSONL(id, traceFile, e)
}

// Events returns the trace for one executor in append order. A limit > 0
// keeps only the newest events. An empty executor name reads the global
// trace.
func (tl *TraceLog) Events(executor string, limit int) ([]events.Event, error) {
	tl.ds.RLock()
	defer tl.ds.RUnlock()

	all, err := dirstore.LoadJSONL[events.Event](tl.ds, tl.traceID(executor), traceFile)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (tl *TraceLog) traceID(executor string) string {
	if executor == "" {
		return globalTrace
	}
	return executor
}
