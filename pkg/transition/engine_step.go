package transition

import (
	"fmt"

	"github.com/bft-labs/roleshift/pkg/concurrency"
	"github.com/bft-labs/roleshift/pkg/health"
	"github.com/bft-labs/roleshift/pkg/log"
)

// EngineStepName is the name EngineStep reports.
const EngineStepName = "engine"

// EngineStep owns the partition's engine instance: Prepare closes it and
// Activate opens a fresh one bound to the new term for roles that process
// records.
type EngineStep struct {
	factory EngineFactory
	roles   map[Role]bool
	logger  log.Logger
}

// EngineStepOption configures an EngineStep.
type EngineStepOption func(*EngineStep)

// WithEngineRoles replaces the roles that run an engine (default: leader).
func WithEngineRoles(roles ...Role) EngineStepOption {
	return func(s *EngineStep) {
		s.roles = make(map[Role]bool, len(roles))
		for _, r := range roles {
			s.roles[r] = true
		}
	}
}

// WithEngineLogger sets the step's logger.
func WithEngineLogger(logger log.Logger) EngineStepOption {
	return func(s *EngineStep) {
		s.logger = logger
	}
}

// NewEngineStep creates the step. factory is called once per activation.
func NewEngineStep(factory EngineFactory, opts ...EngineStepOption) *EngineStep {
	s := &EngineStep{
		factory: factory,
		roles:   map[Role]bool{RoleLeader: true},
		logger:  log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Step.
func (s *EngineStep) Name() string {
	return EngineStepName
}

// RequiresEngine reports whether role runs an engine.
func (s *EngineStep) RequiresEngine(role Role) bool {
	return s.roles[role]
}

// Prepare closes the installed engine, if any. The handle is cleared only
// after the close is confirmed.
func (s *EngineStep) Prepare(ctx *Context, term int64, target Role) *concurrency.Future[struct{}] {
	inst := ctx.Engine()
	if inst == nil {
		return completed()
	}

	s.logger.Info("closing engine",
		log.String("engine", inst.ID()),
		log.Int64("engine_term", inst.Term()),
		log.Term(term),
		log.Role(target.String()),
	)

	result := concurrency.NewFuture[struct{}]()
	concurrency.OnCompleteOn(ctx.Executor(), inst.Close(), func(_ struct{}, err error) {
		if err != nil {
			result.Fail(fmt.Errorf("close engine %s: %w", inst.ID(), err))
			return
		}
		if ctx.Engine() == inst {
			ctx.SetEngine(nil)
		}
		if sink := ctx.Health(); sink != nil {
			sink.Remove(componentName(ctx.PartitionID()))
		}
		s.logger.Info("engine closed", log.String("engine", inst.ID()))
		result.Complete(struct{}{})
	})
	return result
}

// Activate opens a new engine when target requires one. The handle is
// published before opening so a failed open is still torn down by the next
// Prepare.
func (s *EngineStep) Activate(ctx *Context, term int64, target Role) *concurrency.Future[struct{}] {
	if !s.RequiresEngine(target) {
		return completed()
	}
	if existing := ctx.Engine(); existing != nil {
		return concurrency.Failed[struct{}](s.activateError(term, target,
			fmt.Errorf("%w: %s", ErrEngineInstalled, existing.ID())))
	}

	inst, err := s.factory(EngineParams{
		PartitionID: ctx.PartitionID(),
		Term:        term,
		Log:         ctx.Log(),
	})
	if err != nil {
		s.reportUnhealthy(ctx, err)
		return concurrency.Failed[struct{}](s.activateError(term, target, fmt.Errorf("build engine: %w", err)))
	}
	ctx.SetEngine(inst)

	s.logger.Info("opening engine",
		log.String("engine", inst.ID()),
		log.Term(term),
		log.Role(target.String()),
	)

	result := concurrency.NewFuture[struct{}]()
	concurrency.OnCompleteOn(ctx.Executor(), inst.Open(), func(_ struct{}, err error) {
		if err != nil {
			s.reportUnhealthy(ctx, err)
			result.Fail(s.activateError(term, target, fmt.Errorf("open engine %s: %w", inst.ID(), err)))
			return
		}
		if sink := ctx.Health(); sink != nil {
			sink.Report(componentName(ctx.PartitionID()), health.StatusHealthy,
				fmt.Sprintf("engine %s open at term %d", inst.ID(), term))
		}
		s.logger.Info("engine open", log.String("engine", inst.ID()), log.Term(term))
		result.Complete(struct{}{})
	})
	return result
}

func (s *EngineStep) activateError(term int64, role Role, err error) *StepError {
	return &StepError{
		Step:  s.Name(),
		Phase: PhaseActivate,
		Term:  term,
		Role:  role,
		Err:   err,
	}
}

func (s *EngineStep) reportUnhealthy(ctx *Context, err error) {
	if sink := ctx.Health(); sink != nil {
		sink.Report(componentName(ctx.PartitionID()), health.StatusUnhealthy, err.Error())
	}
}

func componentName(partitionID int) string {
	return fmt.Sprintf("partition-%d-engine", partitionID)
}
