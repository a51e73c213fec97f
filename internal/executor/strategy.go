package executor

import (
	"context"
	"time"
)

// Strategy is the capability interface a concrete localizer implements. Each
// hook performs one unit of domain work for the goal carried by the Run and
// returns its output. Hooks are never invoked concurrently: only one goal is
// active at a time, and a replacement hook does not start until its
// predecessor has returned.
//
// A hook performing long work must poll Run.Interrupted (or select on
// Run.Preempted) and return ErrInterrupted promptly when asked to stop. The
// context is canceled only on executor shutdown, never on preemption.
type Strategy interface {
	GetVertexDescriptor(ctx context.Context, run *Run) (Output, error)
	GetEdgesDescriptors(ctx context.Context, run *Run) (Output, error)
	LocalizeInVertex(ctx context.Context, run *Run) (Output, error)
	LocalizeEdge(ctx context.Context, run *Run) (Output, error)
	GetDissimilarity(ctx context.Context, run *Run) (Output, error)
}

// Interruptible is the optional lifecycle pair a Strategy may implement to
// save and restore partial computation state around a pause. OnInterrupt runs
// at the Running→Interrupted transition (after the hook has been signaled and
// given its grace window); OnContinue runs at the Interrupted→Running
// transition, before the saved goal's hook is re-invoked. Strategies that do
// not implement Interruptible get no-op behavior.
type Interruptible interface {
	OnInterrupt(goal Goal)
	OnContinue(goal Goal)
}

// Run is the handle a hook uses to observe its dispatch: the immutable goal,
// feedback emission, and the cooperative preemption signal.
type Run struct {
	goal      Goal
	exec      *Executor
	gen       uint64
	preemptCh <-chan struct{}
	started   time.Time
}

// Goal returns the goal this run executes. For a resumed run this is the
// saved goal context, field for field, not the CONTINUE goal.
func (r *Run) Goal() Goal { return r.goal }

// Publish emits streamed progress for the active goal. It is fire-and-forget
// and becomes a no-op once the run has been superseded.
func (r *Run) Publish(completion float64, message string) {
	if !r.exec.isCurrent(r.gen) {
		r.exec.noteStaleFeedback(r.goal)
		return
	}
	r.exec.publishFeedback(Feedback{
		GoalID:      r.goal.ID,
		TimeElapsed: time.Since(r.started),
		Completion:  completion,
		Message:     message,
	})
}

// Interrupted reports whether a preemption has been requested. Hooks should
// poll this between work slices and return ErrInterrupted when it fires.
func (r *Run) Interrupted() bool {
	select {
	case <-r.preemptCh:
		return true
	default:
		return false
	}
}

// Preempted returns the channel closed when preemption is requested, for
// hooks structured around select.
func (r *Run) Preempted() <-chan struct{} { return r.preemptCh }

// Elapsed returns the time since the hook was dispatched.
func (r *Run) Elapsed() time.Duration { return time.Since(r.started) }
