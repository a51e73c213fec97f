package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sextant-io/sextant/internal/events"
)

// defaultPreemptGrace bounds how long a control path waits for a signaled
// hook to wind down before moving on without it.
const defaultPreemptGrace = 5 * time.Second

// Config holds the executor's collaborators and tuning.
type Config struct {
	// Name identifies the executor in logs, events, and the registry.
	Name string

	// Bus receives lifecycle events when non-nil.
	Bus *events.Bus

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// PreemptGrace bounds the wind-down wait after signaling a hook.
	// Zero means the 5s default. It never limits the hook itself.
	PreemptGrace time.Duration
}

// worker tracks one hook dispatch. done is closed when the hook has returned
// and its outcome has been settled, never before; the next worker waits on it
// so hooks can never overlap.
type worker struct {
	gen       uint64
	goal      Goal
	preemptCh chan struct{}
	done      chan struct{}
	started   time.Time
}

// Executor owns the goal lifecycle state machine. All state transitions
// happen under mu; ctrl serializes the control paths (goal and preempt
// handling) end to end so that a wind-down in progress cannot interleave
// with the next control event.
type Executor struct {
	name     string
	strategy Strategy
	logger   *slog.Logger
	bus      *events.Bus
	grace    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ctrl sync.Mutex

	mu        sync.Mutex
	transport Transport
	state     State
	saved     *Goal // ActiveGoalContext; nil unless a work goal is live
	gen       uint64
	cur       *worker
	prevDone  chan struct{}
	closed    bool
}

// New creates an unbound executor around a strategy.
func New(cfg Config, strategy Strategy) (*Executor, error) {
	if strategy == nil {
		return nil, errors.New("executor: nil strategy")
	}
	name := cfg.Name
	if name == "" {
		name = "executor"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.PreemptGrace
	if grace <= 0 {
		grace = defaultPreemptGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		name:     name,
		strategy: strategy,
		logger:   logger.With("executor", name),
		bus:      cfg.Bus,
		grace:    grace,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
	}, nil
}

// Name returns the executor's name.
func (e *Executor) Name() string { return e.name }

// Bind registers the executor's handlers with the transport. It must run
// once before any goal can be dispatched; a second call is a programming
// contract violation and panics. There is no way to rebind: callers reach
// the executor only through the transport's callback contract.
func (e *Executor) Bind(t Transport) {
	e.mu.Lock()
	if e.transport != nil {
		e.mu.Unlock()
		panic(fmt.Sprintf("executor %s: Bind called twice", e.name))
	}
	e.transport = t
	e.mu.Unlock()

	t.RegisterGoalCallback(e.handleGoal)
	t.RegisterPreemptCallback(e.handlePreempt)
	e.logger.Debug("bound to transport")
}

// State returns the executor's current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ActiveGoal returns a copy of the saved goal context, if any.
func (e *Executor) ActiveGoal() (Goal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.saved == nil {
		return Goal{}, false
	}
	return *e.saved, true
}

// Close cancels the run context, rejects further goals, and waits for the
// in-flight hook to return, bounded by ctx.
func (e *Executor) Close(ctx context.Context) error {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("executor closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor %s: close: %w", e.name, ctx.Err())
	}
}

// handleGoal is the transport's goal callback: classify, then route.
func (e *Executor) handleGoal(g Goal) {
	if err := g.Validate(); err != nil {
		e.logger.Warn("goal rejected", "goal_id", g.ID, "error", err)
		e.emitResult(failureResult(g, err.Error()))
		return
	}

	switch g.Action {
	case ActionInterrupt:
		e.handleInterrupt(g)
	case ActionContinue:
		e.handleContinue(g)
	default:
		e.handleWork(g)
	}
}

// handlePreempt is the transport's cancellation callback. It is the same
// logical event as an INTERRUPT goal, minus a goal of its own to answer.
func (e *Executor) handlePreempt() {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()

	e.mu.Lock()
	if e.closed || e.state != StateRunning {
		state := e.state
		e.mu.Unlock()
		e.logger.Debug("preempt signal ignored", "state", state)
		return
	}
	w, old := e.detachLocked()
	e.state = StateInterrupted
	e.publishState(StateRunning, StateInterrupted, "preempt", old.ID)
	e.mu.Unlock()

	e.logger.Info("goal preempted", "goal_id", old.ID, "action", old.Action)
	e.windDown(w, old)
	e.emitResult(preemptedResult(old, "preempted by caller"))
}

func (e *Executor) handleWork(g Goal) {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.emitResult(failureResult(g, "executor is closed"))
		return
	}

	switch e.state {
	case StateInterrupted:
		e.mu.Unlock()
		terr := &TransitionError{
			State:  StateInterrupted,
			Action: g.Action,
			Reason: "an interrupted goal is pending; send CONTINUE or INTERRUPT first",
		}
		e.logger.Warn("goal rejected", "goal_id", g.ID, "error", terr)
		e.emitResult(failureResult(g, terr.Error()))

	case StateRunning:
		// Last goal wins: implicitly interrupt the active goal, close it
		// out as preempted, then dispatch the newcomer. The preempted
		// result is emitted before the new hook can start.
		w, old := e.detachLocked()
		e.mu.Unlock()

		e.logger.Info("goal replaced", "old_goal_id", old.ID, "new_goal_id", g.ID)
		e.windDown(w, old)
		e.emitResult(preemptedResult(old, "superseded by goal "+g.ID))

		e.mu.Lock()
		e.dispatchLocked(g, false, StateRunning, "replaced")
		e.mu.Unlock()

	default: // StateIdle
		e.dispatchLocked(g, false, StateIdle, string(g.Action))
		e.mu.Unlock()
	}
}

func (e *Executor) handleInterrupt(g Goal) {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.emitResult(failureResult(g, "executor is closed"))
		return
	}

	switch e.state {
	case StateIdle:
		// Nothing to interrupt; acknowledge harmlessly so repeated
		// INTERRUPTs stay idempotent.
		e.mu.Unlock()
		e.emitResult(ackResult(g, "nothing to interrupt"))

	case StateRunning:
		w, old := e.detachLocked()
		e.state = StateInterrupted
		e.publishState(StateRunning, StateInterrupted, string(ActionInterrupt), old.ID)
		e.mu.Unlock()

		e.logger.Info("goal interrupted", "goal_id", old.ID, "action", old.Action)
		e.windDown(w, old)
		e.emitResult(preemptedResult(old, "interrupted"))
		e.emitResult(ackResult(g, "interrupted goal "+old.ID))

	case StateInterrupted:
		// INTERRUPT-cancel: discard the saved context and settle in Idle.
		old := *e.saved
		e.saved = nil
		e.state = StateIdle
		e.publishState(StateInterrupted, StateIdle, string(ActionInterrupt), old.ID)
		e.mu.Unlock()

		e.logger.Info("interrupted goal canceled", "goal_id", old.ID)
		e.emitResult(ackResult(g, "canceled interrupted goal "+old.ID))
	}
}

func (e *Executor) handleContinue(g Goal) {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.emitResult(failureResult(g, "executor is closed"))
		return
	}

	switch e.state {
	case StateInterrupted:
		// Resume from the saved context. The CONTINUE goal's own payload
		// fields are not meaningful and are ignored.
		goal := *e.saved
		e.dispatchLocked(goal, true, StateInterrupted, string(ActionContinue))
		e.mu.Unlock()

		e.logger.Info("goal resumed", "goal_id", goal.ID, "action", goal.Action)
		e.emitResult(ackResult(g, "resuming goal "+goal.ID))

	case StateRunning:
		e.mu.Unlock()
		terr := &TransitionError{State: StateRunning, Action: g.Action, Reason: "a goal is already running"}
		e.logger.Warn("goal rejected", "goal_id", g.ID, "error", terr)
		e.emitResult(failureResult(g, terr.Error()))

	default: // StateIdle
		e.mu.Unlock()
		terr := &TransitionError{State: StateIdle, Action: g.Action, Reason: "no interrupted goal to continue"}
		e.logger.Warn("goal rejected", "goal_id", g.ID, "error", terr)
		e.emitResult(failureResult(g, terr.Error()))
	}
}

// dispatchLocked starts a worker for the goal. Caller holds mu (and ctrl).
// On a fresh dispatch the goal becomes the saved context; on resume the
// saved context is already the goal being re-dispatched. The state event is
// published under mu so transition events reach the bus in order.
func (e *Executor) dispatchLocked(g Goal, resume bool, from State, cause string) {
	e.gen++
	w := &worker{
		gen:       e.gen,
		goal:      g,
		preemptCh: make(chan struct{}),
		done:      make(chan struct{}),
		started:   time.Now(),
	}
	prevDone := e.prevDone
	e.prevDone = w.done
	e.cur = w
	e.state = StateRunning
	if !resume {
		saved := g
		e.saved = &saved
	}
	e.publishState(from, StateRunning, cause, g.ID)

	e.wg.Add(1)
	go e.runWorker(w, prevDone, resume)
}

// runWorker executes one hook dispatch on its own goroutine. It first waits
// for the previous worker to finish so hooks are mutually exclusive even
// when a straggler ignored its preemption signal.
func (e *Executor) runWorker(w *worker, prevDone chan struct{}, resume bool) {
	defer e.wg.Done()

	if prevDone != nil {
		select {
		case <-prevDone:
		case <-e.ctx.Done():
			e.completeRun(w, Output{}, e.ctx.Err())
			return
		}
	}

	if resume {
		if err := e.invokeOnContinue(w.goal); err != nil {
			e.completeRun(w, Output{}, err)
			return
		}
	}

	out, err := e.invokeHook(w)
	e.completeRun(w, out, err)
}

// invokeHook dispatches to the strategy hook selected by the goal's action.
// A panic is caught here, at the dispatch boundary, and surfaced as an error.
func (e *Executor) invokeHook(w *worker) (out Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("hook panicked", "goal_id", w.goal.ID, "action", w.goal.Action, "panic", rec)
			e.publish(events.HookFaultPayload{
				GoalID: w.goal.ID,
				Action: string(w.goal.Action),
				Panic:  fmt.Sprint(rec),
			})
			err = fmt.Errorf("%s hook panicked: %v", w.goal.Action, rec)
		}
	}()

	run := &Run{
		goal:      w.goal,
		exec:      e,
		gen:       w.gen,
		preemptCh: w.preemptCh,
		started:   w.started,
	}

	switch w.goal.Action {
	case ActionGetVertexDescriptor:
		return e.strategy.GetVertexDescriptor(e.ctx, run)
	case ActionGetEdgesDescriptors:
		return e.strategy.GetEdgesDescriptors(e.ctx, run)
	case ActionLocalizeInVertex:
		return e.strategy.LocalizeInVertex(e.ctx, run)
	case ActionLocalizeEdge:
		return e.strategy.LocalizeEdge(e.ctx, run)
	case ActionGetDissimilarity:
		return e.strategy.GetDissimilarity(e.ctx, run)
	}
	return Output{}, fmt.Errorf("no hook for action %s", w.goal.Action)
}

// completeRun settles a worker's outcome. Emission is serialized against the
// executor's generation token: a superseded worker's result is dropped, so a
// straggler can never clobber the state a newer goal established.
func (e *Executor) completeRun(w *worker, out Output, err error) {
	e.mu.Lock()
	if e.cur != w {
		e.mu.Unlock()
		res := e.buildResult(w, out, err)
		e.logger.Debug("superseded result dropped", "goal_id", w.goal.ID, "status", res.Status)
		e.publish(events.ResultDroppedPayload{
			GoalID: w.goal.ID,
			Action: string(w.goal.Action),
			Status: string(res.Status),
		})
		close(w.done)
		return
	}

	e.cur = nil
	res := e.buildResult(w, out, err)

	switch res.Status {
	case StatusPreempted:
		// The hook suspended itself; keep the context for a CONTINUE.
		e.state = StateInterrupted
		e.publishState(StateRunning, StateInterrupted, "self-interrupt", w.goal.ID)
	default:
		e.state = StateIdle
		e.saved = nil
		cause := "hook-complete"
		if res.Status == StatusFailure {
			cause = "hook-error"
		}
		e.publishState(StateRunning, StateCompleted, cause, w.goal.ID)
		e.publishState(StateCompleted, StateIdle, "reset", w.goal.ID)
	}
	e.mu.Unlock()

	e.emitResult(res)
	close(w.done)
}

func (e *Executor) buildResult(w *worker, out Output, err error) Result {
	var res Result
	switch {
	case err == nil:
		res = successResult(w.goal, out)
	case errors.Is(err, ErrInterrupted):
		res = preemptedResult(w.goal, err.Error())
	default:
		res = failureResult(w.goal, err.Error())
	}
	res.Duration = time.Since(w.started)
	return res
}

// detachLocked removes the active worker from the state machine without
// transitioning. Its later completion takes the superseded path. Caller
// holds mu and ctrl, state is Running.
func (e *Executor) detachLocked() (*worker, Goal) {
	w := e.cur
	e.cur = nil
	return w, *e.saved
}

// windDown signals a detached worker, waits up to the grace window for its
// hook to return, then runs the strategy's OnInterrupt. The wait bounds the
// control path only: a hook that never checks the signal keeps running and
// its eventual result is dropped as superseded.
func (e *Executor) windDown(w *worker, goal Goal) {
	close(w.preemptCh)

	select {
	case <-w.done:
	case <-time.After(e.grace):
		e.logger.Warn("hook did not stop within grace window",
			"goal_id", goal.ID, "action", goal.Action, "grace", e.grace)
	}

	e.invokeOnInterrupt(goal)
}

// invokeOnInterrupt runs the optional lifecycle hook. A fault here is caught
// and logged: the interruption itself must still complete cleanly.
func (e *Executor) invokeOnInterrupt(goal Goal) {
	in, ok := e.strategy.(Interruptible)
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("OnInterrupt panicked", "goal_id", goal.ID, "panic", rec)
			e.publish(events.HookFaultPayload{
				GoalID: goal.ID,
				Action: string(goal.Action),
				Panic:  fmt.Sprint(rec),
			})
		}
	}()
	in.OnInterrupt(goal)
}

// invokeOnContinue runs the optional lifecycle hook before a resumed
// dispatch. A fault fails the resumption.
func (e *Executor) invokeOnContinue(goal Goal) (err error) {
	in, ok := e.strategy.(Interruptible)
	if !ok {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("OnContinue panicked", "goal_id", goal.ID, "panic", rec)
			e.publish(events.HookFaultPayload{
				GoalID: goal.ID,
				Action: string(goal.Action),
				Panic:  fmt.Sprint(rec),
			})
			err = fmt.Errorf("OnContinue panicked: %v", rec)
		}
	}()
	in.OnContinue(goal)
	return nil
}

func (e *Executor) isCurrent(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur != nil && e.cur.gen == gen
}

func (e *Executor) noteStaleFeedback(g Goal) {
	e.logger.Debug("stale feedback dropped", "goal_id", g.ID)
}

func (e *Executor) publishFeedback(fb Feedback) {
	e.mu.Lock()
	t := e.transport
	e.mu.Unlock()
	if t == nil {
		return
	}
	t.PublishFeedback(fb)
}

func (e *Executor) emitResult(res Result) {
	e.mu.Lock()
	t := e.transport
	e.mu.Unlock()
	if t == nil {
		return
	}
	e.logger.Info("result emitted",
		"goal_id", res.GoalID, "action", res.Action, "status", res.Status, "reason", res.Reason)
	t.SetResult(res)
}

// publishState is called with mu held so transition events are totally
// ordered; Bus.Publish never blocks, which makes that safe.
func (e *Executor) publishState(from, to State, cause, goalID string) {
	e.publish(events.StateChangedPayload{
		From:   string(from),
		To:     string(to),
		Cause:  cause,
		GoalID: goalID,
	})
}

func (e *Executor) publish(payload events.EventPayload) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.NewTypedEventFor(events.SourceExecutor, payload, e.name))
}
