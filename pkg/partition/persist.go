package partition

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/roleshift/pkg/log"
	"github.com/bft-labs/roleshift/pkg/state"
	"github.com/bft-labs/roleshift/pkg/transition"
)

// persister saves committed transitions off the orchestrator's actor. Only the
// newest commit is kept when saves fall behind.
type persister struct {
	transition.BaseListener

	repo   state.Repository
	logger log.Logger

	mu     sync.Mutex
	latest state.State
	dirty  bool
	wake   chan struct{}
}

func newPersister(repo state.Repository, initial state.State, logger log.Logger) *persister {
	return &persister{
		repo:   repo,
		logger: logger,
		latest: initial,
		wake:   make(chan struct{}, 1),
	}
}

// OnTransitionFinished implements transition.Listener.
func (p *persister) OnTransitionFinished(req transition.Request, outcome transition.Outcome, _ time.Duration, _ error) {
	if outcome != transition.OutcomeCommitted {
		return
	}
	p.mu.Lock()
	if p.latest.Advance(req.Term, req.Role.String(), req.Generation, time.Now()) {
		p.dirty = true
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			_ = p.flush(ctx)
		}
	}
}

func (p *persister) flush(ctx context.Context) error {
	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return nil
	}
	st := p.latest
	p.dirty = false
	p.mu.Unlock()

	if err := p.repo.Save(ctx, st); err != nil {
		p.mu.Lock()
		p.dirty = true
		p.mu.Unlock()
		p.logger.Error("failed to save committed state", log.Term(st.Term), log.Role(st.Role), log.Err(err))
		return err
	}
	p.logger.Debug("committed state saved", log.Term(st.Term), log.Role(st.Role), log.Generation(st.Generation))
	return nil
}
