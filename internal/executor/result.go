package executor

import "time"

// Status is the terminal disposition of a goal.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusPreempted Status = "preempted"
)

// Estimate is a localization output: a pose with a confidence weight.
type Estimate struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Theta      float64 `json:"theta"`
	Confidence float64 `json:"confidence"`
}

// Output is what a work hook returns on success. The executor merges it into
// the terminal Result; which fields are populated depends on the action.
type Output struct {
	// Descriptors holds one link for GET_VERTEX_DESCRIPTOR, the reachable
	// set for GET_EDGES_DESCRIPTORS.
	Descriptors []DescriptorLink `json:"descriptors,omitempty"`

	// Estimate is the pose produced by LOCALIZE_IN_VERTEX / LOCALIZE_EDGE.
	Estimate *Estimate `json:"estimate,omitempty"`

	// Dissimilarity is the score produced by GET_DISSIMILARITY.
	Dissimilarity float64 `json:"dissimilarity,omitempty"`
}

// Result is the terminal outcome of a goal. Every submitted goal receives
// exactly one Result; a resumed goal reports under its original goal ID.
type Result struct {
	GoalID      string    `json:"goal_id,omitempty"`
	Action      Action    `json:"action"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	CompletedAt time.Time `json:"completed_at"`

	// Duration is how long the hook ran; zero for control acknowledgements.
	Duration time.Duration `json:"duration,omitempty"`

	Descriptors   []DescriptorLink `json:"descriptors,omitempty"`
	Estimate      *Estimate        `json:"estimate,omitempty"`
	Dissimilarity float64          `json:"dissimilarity,omitempty"`
}

// Feedback is a streamed, non-terminal progress update for the active goal.
// Emission is fire-and-forget; feedback from a superseded run is dropped.
type Feedback struct {
	GoalID      string        `json:"goal_id"`
	TimeElapsed time.Duration `json:"time_elapsed"`
	Completion  float64       `json:"completion"`
	Message     string        `json:"message,omitempty"`
}

func successResult(g Goal, out Output) Result {
	return Result{
		GoalID:        g.ID,
		Action:        g.Action,
		Status:        StatusSuccess,
		CompletedAt:   time.Now(),
		Descriptors:   out.Descriptors,
		Estimate:      out.Estimate,
		Dissimilarity: out.Dissimilarity,
	}
}

func failureResult(g Goal, reason string) Result {
	return Result{
		GoalID:      g.ID,
		Action:      g.Action,
		Status:      StatusFailure,
		Reason:      reason,
		CompletedAt: time.Now(),
	}
}

func preemptedResult(g Goal, reason string) Result {
	return Result{
		GoalID:      g.ID,
		Action:      g.Action,
		Status:      StatusPreempted,
		Reason:      reason,
		CompletedAt: time.Now(),
	}
}

// ackResult closes out a control goal that did what it asked.
func ackResult(g Goal, reason string) Result {
	return Result{
		GoalID:      g.ID,
		Action:      g.Action,
		Status:      StatusSuccess,
		Reason:      reason,
		CompletedAt: time.Now(),
	}
}
