package transition

import "fmt"

// State is the progress of a single transition request.
type State int

const (
	StateRequested State = iota
	StatePreparing
	StateActivating
	StateCommitted
	StateSuperseded
	StateFailed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateRequested:
		return "Requested"
	case StatePreparing:
		return "Preparing"
	case StateActivating:
		return "Activating"
	case StateCommitted:
		return "Committed"
	case StateSuperseded:
		return "Superseded"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further state change is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateSuperseded || s == StateFailed
}

// next validates the move from s to to.
func (s State) next(to State) error {
	ok := false
	switch s {
	case StateRequested:
		ok = to == StatePreparing || to == StateSuperseded || to == StateFailed
	case StatePreparing:
		ok = to == StateActivating || to == StateSuperseded || to == StateFailed
	case StateActivating:
		ok = to == StateCommitted || to == StateSuperseded || to == StateFailed
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateChange, s, to)
	}
	return nil
}

// Outcome is what the caller of TransitionTo eventually learns.
type Outcome int

const (
	OutcomeCommitted Outcome = iota + 1
	OutcomeSuperseded
	OutcomeFailed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
