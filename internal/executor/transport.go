package executor

// Transport is the executor's view of the action-delivery collaborator. The
// executor registers one goal callback and one preempt callback during Bind
// and emits feedback and results through the remaining two methods.
//
// Delivery contract: the transport invokes the goal callback once per
// incoming goal and the preempt callback once per cancellation signal. The
// callbacks do bounded work (hook execution happens on the executor's own
// worker) but may block for up to the preemption grace window when they have
// to wind a running hook down, so transports should not deliver from a
// latency-critical loop.
type Transport interface {
	RegisterGoalCallback(func(Goal))
	RegisterPreemptCallback(func())
	PublishFeedback(Feedback)
	SetResult(Result)
}
