package executor

import (
	"errors"
	"fmt"
)

// ErrInterrupted is returned by a hook that observed a preemption request and
// stopped cooperatively. A hook may also return it unprompted to self-suspend;
// either way the executor parks in the Interrupted state with the goal context
// saved for a later CONTINUE.
var ErrInterrupted = errors.New("localization interrupted")

// ErrInvalidTransition tags goal rejections caused by the executor's current
// state rather than by the goal itself.
var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError describes a goal that the state machine refused.
type TransitionError struct {
	State  State
	Action Action
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot accept %s while %s: %s", e.Action, e.State, e.Reason)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
