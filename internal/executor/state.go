package executor

// State is the executor's lifecycle position. Completed is transient: it is
// observable on the event bus but the executor immediately settles in Idle.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateInterrupted State = "interrupted"
	StateCompleted   State = "completed"
)

func (s State) String() string { return string(s) }
