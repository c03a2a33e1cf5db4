package transition

import (
	"time"

	"github.com/bft-labs/roleshift/pkg/log"
)

// Listener observes transitions. Callbacks run on the orchestrator's actor and
// must return quickly.
type Listener interface {
	OnTransitionStarted(req Request)
	OnStepCompleted(req Request, step string, phase Phase, took time.Duration, err error)
	OnTransitionFinished(req Request, outcome Outcome, took time.Duration, err error)
}

// BaseListener implements Listener with no-ops; embed it to override a subset.
type BaseListener struct{}

func (BaseListener) OnTransitionStarted(Request)                                  {}
func (BaseListener) OnStepCompleted(Request, string, Phase, time.Duration, error) {}
func (BaseListener) OnTransitionFinished(Request, Outcome, time.Duration, error)  {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(logger log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithListener registers a listener for transition events.
func WithListener(l Listener) Option {
	return func(o *Orchestrator) {
		o.listener = l
	}
}

// WithRestored seeds the term floor and generation counter from persisted
// state. Requests for lower terms are rejected as misuse. No role is restored:
// nothing has been activated in this process, so the committed role starts as
// RoleInactive at term.
func WithRestored(term int64, generation uint64) Option {
	return func(o *Orchestrator) {
		o.highestTerm = term
		o.generation = generation
		o.ctx.commit(Committed{Term: term, Role: RoleInactive, Generation: generation})
	}
}

// Listeners fans events out to every listener in order.
type Listeners []Listener

func (ls Listeners) OnTransitionStarted(req Request) {
	for _, l := range ls {
		l.OnTransitionStarted(req)
	}
}

func (ls Listeners) OnStepCompleted(req Request, step string, phase Phase, took time.Duration, err error) {
	for _, l := range ls {
		l.OnStepCompleted(req, step, phase, took, err)
	}
}

func (ls Listeners) OnTransitionFinished(req Request, outcome Outcome, took time.Duration, err error) {
	for _, l := range ls {
		l.OnTransitionFinished(req, outcome, took, err)
	}
}
