package transition

import (
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/roleshift/pkg/concurrency"
	"github.com/bft-labs/roleshift/pkg/health"
	"github.com/bft-labs/roleshift/pkg/log"
)

// Request is one call to TransitionTo. Generation is assigned by the
// orchestrator and strictly increases, so two requests for the same term and
// role are still told apart.
type Request struct {
	Term       int64
	Role       Role
	Generation uint64
}

// String renders the request for logs and errors.
func (r Request) String() string {
	return fmt.Sprintf("%s@%d#%d", r.Role, r.Term, r.Generation)
}

// pending tracks a transition from request until its outcome is delivered.
type pending struct {
	req     Request
	result  *concurrency.Future[Outcome]
	state   State
	started time.Time
}

// Orchestrator drives the step chain for every requested (term, role).
type Orchestrator struct {
	exec     concurrency.Executor
	chain    Chain
	ctx      *Context
	logger   log.Logger
	listener Listener

	// Owned by the actor.
	generation  uint64
	highestTerm int64
	current     *pending
	inFlight    *concurrency.Future[struct{}]
	closing     bool
}

// NewOrchestrator creates an orchestrator running chain on the context's actor.
func NewOrchestrator(ctx *Context, chain Chain, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		exec:     ctx.Executor(),
		chain:    chain,
		ctx:      ctx,
		logger:   log.NewNoopLogger(),
		listener: BaseListener{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(log.Partition(ctx.PartitionID()))
	return o
}

// Context returns the shared transition context.
func (o *Orchestrator) Context() *Context {
	return o.ctx
}

// Committed returns the last committed (term, role). Safe from any goroutine.
func (o *Orchestrator) Committed() Committed {
	return o.ctx.Committed()
}

// TransitionTo requests a transition to role at term. The returned future
// completes with OutcomeCommitted or OutcomeSuperseded, or fails with a
// *StepError, a *MisuseError or ErrClosed.
func (o *Orchestrator) TransitionTo(term int64, role Role) *concurrency.Future[Outcome] {
	return o.submit(term, role, false)
}

// Shutdown tears every step down with a final transition to RoleInactive at
// the highest requested term. Later requests fail with ErrClosed.
func (o *Orchestrator) Shutdown() *concurrency.Future[Outcome] {
	return o.submit(-1, RoleInactive, true)
}

// Abort fails the transition still in progress with ErrClosed and rejects
// later requests. Use it before closing the actor when Shutdown did not finish
// in time: continuations of the running step are dropped once the actor is
// closed, so without Abort that transition's caller would never be answered.
func (o *Orchestrator) Abort(cause error) {
	_ = o.exec.Run(func() {
		o.closing = true
		p := o.current
		if p == nil || p.state.Terminal() {
			return
		}
		o.fail(p, fmt.Errorf("%w: aborted: %v", ErrClosed, cause))
	})
}

func (o *Orchestrator) submit(term int64, role Role, final bool) *concurrency.Future[Outcome] {
	result := concurrency.NewFuture[Outcome]()
	err := o.exec.Run(func() {
		if final {
			term = o.highestTerm
		}
		o.request(term, role, result, final)
	})
	if err != nil {
		result.Fail(fmt.Errorf("%w: %v", ErrClosed, err))
	}
	return result
}

func (o *Orchestrator) request(term int64, role Role, result *concurrency.Future[Outcome], final bool) {
	if o.closing {
		result.Fail(ErrClosed)
		return
	}
	if term < o.highestTerm {
		err := &MisuseError{Term: term, Highest: o.highestTerm}
		o.logger.Warn("rejected transition request", log.Term(term), log.Role(role.String()), log.Err(err))
		result.Fail(err)
		return
	}
	o.highestTerm = term
	o.generation++
	o.closing = final

	p := &pending{
		req:     Request{Term: term, Role: role, Generation: o.generation},
		result:  result,
		state:   StateRequested,
		started: time.Now(),
	}

	if prev := o.current; prev != nil && !prev.state.Terminal() {
		o.supersede(prev, p.req)
	}
	o.current = p

	o.logger.Info("transition requested",
		log.Term(term),
		log.Role(role.String()),
		log.Generation(p.req.Generation),
	)
	o.listener.OnTransitionStarted(p.req)

	// Never start a step while a superseded transition still has one running.
	if f := o.inFlight; f != nil && !f.IsDone() {
		o.logger.Debug("waiting for in-flight step of superseded transition", log.Generation(p.req.Generation))
		concurrency.OnCompleteOn(o.exec, f, func(struct{}, error) {
			o.start(p)
		})
		return
	}
	o.start(p)
}

func (o *Orchestrator) supersede(p *pending, by Request) {
	o.setState(p, StateSuperseded)
	o.logger.Info("transition superseded",
		log.Term(p.req.Term),
		log.Role(p.req.Role.String()),
		log.Generation(p.req.Generation),
		log.Uint64("superseded_by", by.Generation),
	)
	o.listener.OnTransitionFinished(p.req, OutcomeSuperseded, time.Since(p.started), nil)
	p.result.Complete(OutcomeSuperseded)
}

func (o *Orchestrator) start(p *pending) {
	if p.state != StateRequested {
		return
	}
	o.setState(p, StatePreparing)
	o.ctx.setTarget(p.req.Term, p.req.Role)
	o.runStep(p, PhasePrepare, 0)
}

// runStep invokes step index of phase and schedules the next one on completion.
func (o *Orchestrator) runStep(p *pending, phase Phase, index int) {
	if p.state.Terminal() {
		return
	}
	if index == len(o.chain) {
		if phase == PhasePrepare {
			o.setState(p, StateActivating)
			o.runStep(p, PhaseActivate, 0)
			return
		}
		o.commit(p)
		return
	}

	step := o.chain[index]
	started := time.Now()
	f := o.invoke(step, phase, p.req)
	o.inFlight = f

	concurrency.OnCompleteOn(o.exec, f, func(_ struct{}, err error) {
		if o.inFlight == f {
			o.inFlight = nil
		}
		o.listener.OnStepCompleted(p.req, step.Name(), phase, time.Since(started), err)

		if p.state.Terminal() {
			if err != nil {
				o.logger.Debug("discarding result of finished transition's step",
					log.Step(step.Name()),
					log.Generation(p.req.Generation),
					log.Err(err),
				)
			}
			return
		}
		if err != nil {
			o.fail(p, stepError(step.Name(), phase, p.req, err))
			return
		}
		o.runStep(p, phase, index+1)
	})
}

// invoke calls the step, turning a panic or a nil future into a result.
func (o *Orchestrator) invoke(step Step, phase Phase, req Request) (f *concurrency.Future[struct{}]) {
	defer func() {
		if r := recover(); r != nil {
			f = concurrency.Failed[struct{}](fmt.Errorf("step panicked: %v", r))
		}
	}()

	o.logger.Debug("running step", log.Step(step.Name()), log.String("phase", phase.String()), log.Generation(req.Generation))
	if phase == PhasePrepare {
		f = step.Prepare(o.ctx, req.Term, req.Role)
	} else {
		f = step.Activate(o.ctx, req.Term, req.Role)
	}
	if f == nil {
		f = completed()
	}
	return f
}

func (o *Orchestrator) commit(p *pending) {
	if p.req.Generation != o.generation {
		// A newer request exists; it has already resolved this one.
		return
	}
	o.setState(p, StateCommitted)
	o.ctx.commit(Committed{Term: p.req.Term, Role: p.req.Role, Generation: p.req.Generation})
	o.reportHealth(health.StatusHealthy, fmt.Sprintf("committed %s", p.req))

	took := time.Since(p.started)
	o.logger.Info("transition committed",
		log.Term(p.req.Term),
		log.Role(p.req.Role.String()),
		log.Generation(p.req.Generation),
		log.Duration("took", took),
	)
	// Listeners see the commit before the caller does.
	o.listener.OnTransitionFinished(p.req, OutcomeCommitted, took, nil)
	p.result.Complete(OutcomeCommitted)
}

func (o *Orchestrator) fail(p *pending, err error) {
	o.setState(p, StateFailed)
	o.reportHealth(health.StatusUnhealthy, err.Error())

	took := time.Since(p.started)
	o.logger.Error("transition failed",
		log.Term(p.req.Term),
		log.Role(p.req.Role.String()),
		log.Generation(p.req.Generation),
		log.Err(err),
	)
	o.listener.OnTransitionFinished(p.req, OutcomeFailed, took, err)
	p.result.Fail(err)
}

func (o *Orchestrator) setState(p *pending, to State) {
	if err := p.state.next(to); err != nil {
		o.logger.Error("unexpected transition state change", log.Generation(p.req.Generation), log.Err(err))
	}
	p.state = to
}

func (o *Orchestrator) reportHealth(status health.Status, detail string) {
	if sink := o.ctx.Health(); sink != nil {
		sink.Report(fmt.Sprintf("partition-%d-transition", o.ctx.PartitionID()), status, detail)
	}
}

// stepError keeps a *StepError built by the step itself and wraps anything else.
func stepError(name string, phase Phase, req Request, err error) error {
	var se *StepError
	if errors.As(err, &se) && se.Phase == phase {
		return se
	}
	return &StepError{Step: name, Phase: phase, Term: req.Term, Role: req.Role, Err: err}
}
