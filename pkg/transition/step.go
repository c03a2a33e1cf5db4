package transition

import (
	"fmt"

	"github.com/bft-labs/roleshift/pkg/concurrency"
)

// Step manages one subsystem's resources across role changes.
//
// Both operations run on the orchestrator's actor and must not block it;
// longer work completes the returned future from elsewhere. Prepare releases
// what must not survive into target and succeeds when there is nothing to
// release. Activate brings up what target needs.
type Step interface {
	Name() string
	Prepare(ctx *Context, term int64, target Role) *concurrency.Future[struct{}]
	Activate(ctx *Context, term int64, target Role) *concurrency.Future[struct{}]
}

// Phase is the half of the step protocol being executed.
type Phase int

const (
	PhasePrepare Phase = iota
	PhaseActivate
)

// String returns the phase name.
func (p Phase) String() string {
	if p == PhasePrepare {
		return "prepare"
	}
	return "activate"
}

func (p Phase) sentinel() error {
	if p == PhasePrepare {
		return ErrStepPrepareFailed
	}
	return ErrStepActivateFailed
}

// Chain is the ordered list of steps shared by every transition of a partition.
type Chain []Step

// NewChain validates steps: none may be nil and names must be unique.
func NewChain(steps ...Step) (Chain, error) {
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s == nil {
			return nil, fmt.Errorf("%w: step %d is nil", ErrOrchestratorMisuse, i)
		}
		if seen[s.Name()] {
			return nil, fmt.Errorf("%w: duplicate step %q", ErrOrchestratorMisuse, s.Name())
		}
		seen[s.Name()] = true
	}
	return Chain(append([]Step(nil), steps...)), nil
}

// Names returns the step names in chain order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return names
}

// completed is the result of a step operation with nothing to do.
func completed() *concurrency.Future[struct{}] {
	return concurrency.Completed(struct{}{})
}
