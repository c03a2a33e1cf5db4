package transition

import (
	"errors"
	"fmt"
)

var (
	// ErrStepPrepareFailed marks a failure in a step's Prepare.
	ErrStepPrepareFailed = errors.New("roleshift: step prepare failed")

	// ErrStepActivateFailed marks a failure in a step's Activate.
	ErrStepActivateFailed = errors.New("roleshift: step activate failed")

	// ErrOrchestratorMisuse is returned for requests that break the caller contract.
	ErrOrchestratorMisuse = errors.New("roleshift: orchestrator misuse")

	// ErrClosed is returned for requests made after shutdown.
	ErrClosed = errors.New("roleshift: orchestrator closed")

	// ErrInvalidStateChange is returned for a transition state move that is not allowed.
	ErrInvalidStateChange = errors.New("roleshift: invalid transition state change")

	// ErrEngineInstalled is returned when an engine must be opened while another
	// one is still installed in the context.
	ErrEngineInstalled = errors.New("roleshift: engine instance still installed")
)

// StepError reports a failed step operation.
type StepError struct {
	Step  string
	Phase Phase
	Term  int64
	Role  Role
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s %s failed at term %d (role %s): %v", e.Step, e.Phase, e.Term, e.Role, e.Err)
}

// Unwrap exposes both the phase sentinel and the cause.
func (e *StepError) Unwrap() []error {
	return []error{e.Phase.sentinel(), e.Err}
}

// MisuseError reports a request with a term lower than one already requested.
type MisuseError struct {
	Term    int64
	Highest int64
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("term %d is lower than already requested term %d", e.Term, e.Highest)
}

func (e *MisuseError) Unwrap() error {
	return ErrOrchestratorMisuse
}
