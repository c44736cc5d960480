package domain

import (
	"fmt"
	"strings"
)

// State identifies one workflow state of a task.
type State string

// Workflow states in lifecycle order.
const (
	StateOpen   State = "Open"
	StateToDo   State = "ToDo"
	StateDoing  State = "Doing"
	StateDone   State = "Done"
	StateClosed State = "Closed"
)

// validStates stores every workflow state in lifecycle order.
var validStates = []State{StateOpen, StateToDo, StateDoing, StateDone, StateClosed}

// States returns all workflow states in lifecycle order.
func States() []State {
	return append([]State(nil), validStates...)
}

// ParseState resolves a state name case-insensitively.
func ParseState(raw string) (State, error) {
	raw = strings.TrimSpace(raw)
	for _, state := range validStates {
		if strings.EqualFold(raw, string(state)) {
			return state, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidState, raw)
}

// Terminal reports whether no edge leaves the state.
func (s State) Terminal() bool {
	return s == StateClosed
}

// Edge labels one permitted transition.
type Edge string

// Edge labels.
const (
	EdgeRelease Edge = "release"
	EdgePickUp  Edge = "pickup"
	EdgeReview  Edge = "review"
	EdgeDrop    Edge = "drop"
	EdgeApprove Edge = "approve"
	EdgeReject  Edge = "reject"
)

// Transition is one outbound edge of a state.
type Transition struct {
	Edge Edge
	To   State
}

// edgeTable is the complete set of legal transitions. Closed has none.
var edgeTable = map[State][]Transition{
	StateOpen:  {{Edge: EdgeRelease, To: StateToDo}},
	StateToDo:  {{Edge: EdgePickUp, To: StateDoing}},
	StateDoing: {{Edge: EdgeReview, To: StateDone}, {Edge: EdgeDrop, To: StateToDo}},
	StateDone:  {{Edge: EdgeApprove, To: StateClosed}, {Edge: EdgeReject, To: StateDoing}},
}

// OutboundTransitions returns the legal transitions leaving from.
func OutboundTransitions(from State) []Transition {
	return append([]Transition(nil), edgeTable[from]...)
}

// LookupEdge returns the edge connecting from to to.
func LookupEdge(from, to State) (Edge, error) {
	for _, tr := range edgeTable[from] {
		if tr.To == to {
			return tr.Edge, nil
		}
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrIllegalEdge, from, to)
}

// Gate names a checkpoint guarded by a permit set.
type Gate string

// GateCreate guards task creation. Every non-terminal state is also a gate.
const (
	GateCreate Gate = "Create"
	GateOpen   Gate = Gate(StateOpen)
	GateToDo   Gate = Gate(StateToDo)
	GateDoing  Gate = Gate(StateDoing)
	GateDone   Gate = Gate(StateDone)
)

// validGates stores every gate that owns a permit set.
var validGates = []Gate{GateCreate, GateOpen, GateToDo, GateDoing, GateDone}

// Gates returns every gate that owns a permit set.
func Gates() []Gate {
	return append([]Gate(nil), validGates...)
}

// GateFor returns the gate guarding mutations of a task in state s.
// Terminal states have no gate.
func GateFor(s State) (Gate, bool) {
	if s.Terminal() {
		return "", false
	}
	for _, gate := range validGates {
		if string(gate) == string(s) {
			return gate, true
		}
	}
	return "", false
}

// ParseGate resolves a gate name case-insensitively.
func ParseGate(raw string) (Gate, error) {
	raw = strings.TrimSpace(raw)
	for _, gate := range validGates {
		if strings.EqualFold(raw, string(gate)) {
			return gate, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGate, raw)
}
