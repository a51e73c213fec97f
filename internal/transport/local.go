// Package transport carries goals into an executor and feedback and results
// back out. Local is the in-process implementation; the gateway's REST and
// WebSocket surfaces sit on top of it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sextant-io/sextant/internal/events"
	"github.com/sextant-io/sextant/internal/executor"
)

// ErrNoExecutor is returned by Submit and Preempt before an executor has
// bound its callbacks to this transport.
var ErrNoExecutor = errors.New("transport: no executor bound")

// LocalConfig configures a Local transport.
type LocalConfig struct {
	// Executor names the executor this transport serves; events are
	// attributed to it.
	Executor string

	// Bus receives goal, feedback, and result events when non-nil.
	Bus *events.Bus

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Local is an in-process Transport. Goal delivery is synchronous: Submit
// returns once the executor has accepted or refused the goal, which may
// include winding down a previous goal first. Callers that cannot block
// submit from their own goroutine.
type Local struct {
	name   string
	logger *slog.Logger
	bus    *events.Bus

	mu          sync.Mutex
	goalCb      func(executor.Goal)
	preemptCb   func()
	feedbackFns map[int]func(executor.Feedback)
	resultFns   map[int]func(executor.Result)
	nextID      int
	waiters     map[string]chan executor.Result
}

// NewLocal creates a transport for one executor.
func NewLocal(cfg LocalConfig) *Local {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Executor
	if name == "" {
		name = "executor"
	}
	return &Local{
		name:        name,
		logger:      logger.With("transport", name),
		bus:         cfg.Bus,
		feedbackFns: make(map[int]func(executor.Feedback)),
		resultFns:   make(map[int]func(executor.Result)),
		waiters:     make(map[string]chan executor.Result),
	}
}

// RegisterGoalCallback implements executor.Transport.
func (l *Local) RegisterGoalCallback(cb func(executor.Goal)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.goalCb = cb
}

// RegisterPreemptCallback implements executor.Transport.
func (l *Local) RegisterPreemptCallback(cb func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.preemptCb = cb
}

// PublishFeedback implements executor.Transport. Observers run on the
// emitting goroutine and must return quickly.
func (l *Local) PublishFeedback(fb executor.Feedback) {
	l.mu.Lock()
	fns := make([]func(executor.Feedback), 0, len(l.feedbackFns))
	for _, fn := range l.feedbackFns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(fb)
	}
	l.publish(events.FeedbackPayload{
		GoalID:      fb.GoalID,
		TimeElapsed: fb.TimeElapsed.Seconds(),
		Completion:  fb.Completion,
		Message:     fb.Message,
	})
}

// SetResult implements executor.Transport. The waiter registered by
// SubmitWait, if any, is satisfied first.
func (l *Local) SetResult(res executor.Result) {
	l.mu.Lock()
	waiter := l.waiters[res.GoalID]
	delete(l.waiters, res.GoalID)
	fns := make([]func(executor.Result), 0, len(l.resultFns))
	for _, fn := range l.resultFns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	if waiter != nil {
		waiter <- res // buffered, never blocks
	}
	for _, fn := range fns {
		fn(res)
	}
	l.publish(events.ResultPayload{
		GoalID:   res.GoalID,
		Action:   string(res.Action),
		Status:   string(res.Status),
		Reason:   res.Reason,
		Duration: res.Duration.Seconds(),
	})
}

// Submit delivers a goal to the bound executor, assigning an ID when the
// caller left it empty, and returns the goal's ID. The terminal result
// arrives later through OnResult observers or the event bus.
func (l *Local) Submit(g executor.Goal) (string, error) {
	l.mu.Lock()
	cb := l.goalCb
	l.mu.Unlock()
	if cb == nil {
		return "", ErrNoExecutor
	}

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	l.logger.Debug("goal submitted", "goal_id", g.ID, "action", g.Action)
	l.publish(events.GoalReceivedPayload{
		GoalID: g.ID,
		Action: string(g.Action),
		Vertex: g.Vertex,
		Edge:   g.Edge,
	})

	cb(g)
	return g.ID, nil
}

// SubmitWait submits a goal and blocks until its terminal result arrives or
// ctx expires. The goal keeps running if ctx expires first; only the wait is
// abandoned.
func (l *Local) SubmitWait(ctx context.Context, g executor.Goal) (executor.Result, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}

	ch := make(chan executor.Result, 1)
	l.mu.Lock()
	if l.goalCb == nil {
		l.mu.Unlock()
		return executor.Result{}, ErrNoExecutor
	}
	if _, dup := l.waiters[g.ID]; dup {
		l.mu.Unlock()
		return executor.Result{}, fmt.Errorf("transport: goal %s is already awaited", g.ID)
	}
	l.waiters[g.ID] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.waiters, g.ID)
		l.mu.Unlock()
	}()

	if _, err := l.Submit(g); err != nil {
		return executor.Result{}, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return executor.Result{}, fmt.Errorf("awaiting result for goal %s: %w", g.ID, ctx.Err())
	}
}

// Preempt asks the executor to interrupt the active goal. It carries no goal
// of its own and produces no acknowledgement; the interrupted goal's
// preempted result is the only output.
func (l *Local) Preempt() error {
	l.mu.Lock()
	cb := l.preemptCb
	l.mu.Unlock()
	if cb == nil {
		return ErrNoExecutor
	}
	l.logger.Debug("preempt signal")
	cb()
	return nil
}

// OnFeedback registers a feedback observer and returns an unsubscribe func.
func (l *Local) OnFeedback(fn func(executor.Feedback)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.feedbackFns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.feedbackFns, id)
	}
}

// OnResult registers a result observer and returns an unsubscribe func.
func (l *Local) OnResult(fn func(executor.Result)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.resultFns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.resultFns, id)
	}
}

func (l *Local) publish(payload events.EventPayload) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(events.NewTypedEventFor(events.SourceTransport, payload, l.name))
}
