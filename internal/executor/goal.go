// Package executor implements the interruption-aware lifecycle state machine
// for long-running localization goals: acceptance, hook dispatch, cooperative
// preemption, and resumption from the saved goal context.
package executor

import "fmt"

// Action identifies the kind of work a goal requests.
type Action string

const (
	ActionGetVertexDescriptor Action = "GET_VERTEX_DESCRIPTOR"
	ActionGetEdgesDescriptors Action = "GET_EDGES_DESCRIPTORS"
	ActionLocalizeInVertex    Action = "LOCALIZE_IN_VERTEX"
	ActionLocalizeEdge        Action = "LOCALIZE_EDGE"
	ActionGetDissimilarity    Action = "GET_DISSIMILARITY"
	ActionInterrupt           Action = "INTERRUPT"
	ActionContinue            Action = "CONTINUE"
)

// workActions lists the actions dispatched to a strategy hook.
var workActions = map[Action]bool{
	ActionGetVertexDescriptor: true,
	ActionGetEdgesDescriptors: true,
	ActionLocalizeInVertex:    true,
	ActionLocalizeEdge:        true,
	ActionGetDissimilarity:    true,
}

// IsWork reports whether the action dispatches to a strategy hook.
func (a Action) IsWork() bool { return workActions[a] }

// IsControl reports whether the action steers the executor instead of
// requesting work.
func (a Action) IsControl() bool { return a == ActionInterrupt || a == ActionContinue }

// ParseAction converts a wire string into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if a.IsWork() || a.IsControl() {
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// DescriptorLink references a descriptor held by a map agent. The executor
// never dereferences it; strategies decide what the reference means.
type DescriptorLink struct {
	ObjectID     int64  `json:"object_id"`
	DescriptorID int64  `json:"descriptor_id"`
	Interface    string `json:"interface_name,omitempty"`
}

// Goal is the unit of work requested by a caller. Which payload fields are
// meaningful depends on Action; INTERRUPT and CONTINUE carry no meaningful
// payload at all. Goals are immutable once accepted.
type Goal struct {
	ID     string `json:"id,omitempty"`
	Action Action `json:"action"`

	// Vertex is the target map vertex for GET_VERTEX_DESCRIPTOR,
	// GET_EDGES_DESCRIPTORS, and LOCALIZE_IN_VERTEX.
	Vertex int64 `json:"vertex,omitempty"`

	// Edge is the target map edge for LOCALIZE_EDGE.
	Edge int64 `json:"edge,omitempty"`

	// DescriptorA and DescriptorB are the pair compared by GET_DISSIMILARITY.
	DescriptorA *DescriptorLink `json:"descriptor_a,omitempty"`
	DescriptorB *DescriptorLink `json:"descriptor_b,omitempty"`
}

// Validate checks that the goal carries a known action and the payload fields
// that action needs.
func (g Goal) Validate() error {
	if _, err := ParseAction(string(g.Action)); err != nil {
		return err
	}
	if g.Action == ActionGetDissimilarity {
		if g.DescriptorA == nil || g.DescriptorB == nil {
			return fmt.Errorf("%s requires two descriptors to compare", g.Action)
		}
	}
	return nil
}
