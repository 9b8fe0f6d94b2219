// Package workflow holds the task and milestone state machines and the
// transition rules. It performs no I/O.
package workflow

import "strings"

type Kind string

const (
	KindTask      Kind = "task"
	KindMilestone Kind = "milestone"
)

type State string

const (
	StateTodo       State = "todo"
	StateInProgress State = "in-progress"
	StateOnHold     State = "on-hold"
	StateDone       State = "done"
	StateSubmitted  State = "submitted"
	StateVerified   State = "verified"
	StateRejected   State = "rejected"
)

// transitions is closed: an edge that is not listed does not exist.
var transitions = map[Kind]map[State][]State{
	KindTask: {
		StateTodo:       {StateInProgress, StateOnHold},
		StateInProgress: {StateDone, StateOnHold},
		StateOnHold:     {StateInProgress, StateTodo},
		StateDone:       {StateVerified, StateRejected},
		StateVerified:   {},
		StateRejected:   {},
	},
	KindMilestone: {
		StateTodo:       {StateInProgress, StateOnHold},
		StateInProgress: {StateSubmitted, StateOnHold},
		StateOnHold:     {StateInProgress, StateTodo},
		StateSubmitted:  {StateVerified, StateRejected},
		StateVerified:   {},
		StateRejected:   {},
	},
}

func ParseKind(value string) (Kind, bool) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := transitions[kind]; !ok {
		return "", false
	}
	return kind, true
}

func InitialState() State {
	return StateTodo
}

// Known reports whether state belongs to the lifecycle of kind.
func Known(kind Kind, state State) bool {
	_, ok := transitions[kind][state]
	return ok
}

// States lists every state of kind in table order.
func States(kind Kind) []State {
	switch kind {
	case KindTask:
		return []State{StateTodo, StateInProgress, StateOnHold, StateDone, StateVerified, StateRejected}
	case KindMilestone:
		return []State{StateTodo, StateInProgress, StateOnHold, StateSubmitted, StateVerified, StateRejected}
	default:
		return nil
	}
}

func Targets(kind Kind, from State) []State {
	targets := transitions[kind][from]
	out := make([]State, len(targets))
	copy(out, targets)
	return out
}

func CanTransition(kind Kind, from, to State) bool {
	for _, target := range transitions[kind][from] {
		if target == to {
			return true
		}
	}
	return false
}

func IsTerminal(kind Kind, state State) bool {
	targets, ok := transitions[kind][state]
	return ok && len(targets) == 0
}

func isVerdict(state State) bool {
	return state == StateVerified || state == StateRejected
}
