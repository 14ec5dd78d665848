package model

import "fmt"

// State is a step of the job lifecycle.
type State string

const (
	StateCreated  State = "created"
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateAwaiting State = "awaiting_human_input"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

// States lists every lifecycle state in display order.
var States = []State{StateCreated, StateQueued, StateRunning, StateAwaiting, StateDone, StateFailed}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func (s State) Valid() bool {
	for _, st := range States {
		if s == st {
			return true
		}
	}
	return false
}

func ParseState(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown state %q", s)
	}
	return st, nil
}

var transitions = map[State][]State{
	StateCreated:  {StateQueued},
	StateQueued:   {StateRunning},
	StateRunning:  {StateDone, StateFailed, StateAwaiting, StateQueued},
	StateAwaiting: {StateQueued},
}

// ValidateTransition reports whether from -> to is an edge of the lifecycle.
// Leaving done or failed is always rejected with ErrTerminal.
func ValidateTransition(from, to State) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminal, from, to)
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
