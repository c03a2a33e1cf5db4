package partition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bft-labs/roleshift/pkg/concurrency"
	"github.com/bft-labs/roleshift/pkg/engine"
	"github.com/bft-labs/roleshift/pkg/health"
	"github.com/bft-labs/roleshift/pkg/lifecycle"
	"github.com/bft-labs/roleshift/pkg/log"
	"github.com/bft-labs/roleshift/pkg/logstore"
	"github.com/bft-labs/roleshift/pkg/state"
	"github.com/bft-labs/roleshift/pkg/transition"
)

// ErrNotLeader is returned by Append when the committed role is not leader.
var ErrNotLeader = errors.New("roleshift: partition is not leader")

// Partition is one partition replica. Use New to create it and Start to open it.
type Partition struct {
	cfg       Config
	opts      options
	logger    log.Logger
	lifecycle *lifecycle.DefaultManager
	health    *health.Monitor
	stateRepo state.Repository

	mu        sync.RWMutex
	store     *logstore.Store
	actor     *concurrency.Actor
	tctx      *transition.Context
	orch      *transition.Orchestrator
	persister *persister
}

// New creates a partition in StateStopped. Returns an error if the
// configuration is invalid.
func New(cfg Config, opts ...Option) (*Partition, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNoopLogger()
	}
	if o.health == nil {
		o.health = health.NewMonitor()
	}
	if o.stateRepo == nil {
		o.stateRepo = state.NewFileRepository(cfg.StateDir, cfg.PartitionID)
	}
	logger := o.logger.With(log.Partition(cfg.PartitionID))

	return &Partition{
		cfg:       cfg,
		opts:      o,
		logger:    logger,
		lifecycle: lifecycle.NewManager(logger, o.eventHandler),
		health:    o.health,
		stateRepo: o.stateRepo,
	}, nil
}

// ID returns the partition id.
func (p *Partition) ID() int {
	return p.cfg.PartitionID
}

// Start opens the log, restores the committed state and starts the
// orchestrator. The partition holds no role until the first TransitionTo.
func (p *Partition) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lifecycle.CanStart() {
		return lifecycle.ErrAlreadyRunning
	}
	if err := p.lifecycle.TransitionTo(lifecycle.StateStarting, "Start() called"); err != nil {
		return err
	}

	if err := p.open(ctx); err != nil {
		p.closeResources()
		_ = p.lifecycle.TransitionTo(lifecycle.StateCrashed, err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.lifecycle.SetCancel(cancel)

	p.lifecycle.Go(runCtx, "persister", p.persister.run)

	if !p.cfg.DisableRetention {
		r := &retention{
			store:      p.store,
			checkpoint: engine.DefaultCheckpointName,
			retain:     p.cfg.RetainRecords,
			interval:   p.cfg.RetentionInterval,
			logger:     p.logger,
		}
		p.lifecycle.Go(runCtx, "retention", r.run)
	}

	return p.lifecycle.TransitionTo(lifecycle.StateRunning, "partition open")
}

func (p *Partition) open(ctx context.Context) error {
	store, err := logstore.Open(logstore.Options{Dir: p.cfg.DataDir, InMemory: p.cfg.InMemory})
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	p.store = store

	st, err := p.stateRepo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load committed state: %w", err)
	}

	factory := p.opts.engineFactory
	if factory == nil {
		handler := p.opts.handler
		if handler == nil {
			handler = engine.LogHandler(p.logger)
		}
		factory = engine.NewFactory(handler, engine.Config{PollInterval: p.cfg.PollInterval}, p.logger)
	}

	steps := append([]transition.Step(nil), p.opts.steps...)
	steps = append(steps, transition.NewEngineStep(factory,
		transition.WithEngineRoles(p.cfg.EngineRoles...),
		transition.WithEngineLogger(p.logger),
	))
	chain, err := transition.NewChain(steps...)
	if err != nil {
		return err
	}

	p.persister = newPersister(p.stateRepo, st, p.logger)
	listeners := append(transition.Listeners{p.persister}, p.opts.listeners...)
	orchOpts := []transition.Option{
		transition.WithLogger(p.logger),
		transition.WithListener(listeners),
	}
	if !st.IsEmpty() {
		if _, err := transition.ParseRole(st.Role); err != nil {
			return fmt.Errorf("committed state: %w", err)
		}
		// Only the term floor survives a restart; the role must be requested again.
		orchOpts = append(orchOpts, transition.WithRestored(st.Term, st.Generation))
		if st.Role != transition.RoleInactive.String() {
			p.logger.Warn("previous run did not stop cleanly, starting inactive",
				log.Term(st.Term),
				log.Role(st.Role),
			)
		}
		p.logger.Info("restored committed state",
			log.Term(st.Term),
			log.Generation(st.Generation),
		)
	}

	p.actor = concurrency.NewActor(fmt.Sprintf("partition-%d", p.cfg.PartitionID))
	p.tctx = transition.NewContext(p.cfg.PartitionID, p.actor, store, p.health)
	p.orch = transition.NewOrchestrator(p.tctx, chain, orchOpts...)
	return nil
}

// TransitionTo requests a role change. It fails with lifecycle.ErrNotRunning
// unless the partition is running.
func (p *Partition) TransitionTo(term int64, role transition.Role) *concurrency.Future[transition.Outcome] {
	p.mu.RLock()
	orch := p.orch
	p.mu.RUnlock()

	if orch == nil || p.lifecycle.State() != lifecycle.StateRunning {
		return concurrency.Failed[transition.Outcome](lifecycle.ErrNotRunning)
	}
	return orch.TransitionTo(term, role)
}

// Committed returns the last committed (term, role).
func (p *Partition) Committed() transition.Committed {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.orch == nil {
		return transition.Committed{}
	}
	return p.orch.Committed()
}

// Append writes payload to the log at the committed term. Only a committed
// leader accepts writes.
func (p *Partition) Append(payload []byte) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.orch == nil || p.lifecycle.State() != lifecycle.StateRunning {
		return 0, lifecycle.ErrNotRunning
	}
	c := p.orch.Committed()
	if c.Role != transition.RoleLeader {
		return 0, fmt.Errorf("%w: committed role is %s", ErrNotLeader, c.Role)
	}
	return p.store.Append(c.Term, payload)
}

// Health returns the monitor the partition reports to.
func (p *Partition) Health() *health.Monitor {
	return p.health
}

// State returns the partition's lifecycle state.
func (p *Partition) State() lifecycle.State {
	return p.lifecycle.State()
}

// Stop performs a final transition to inactive, saves the committed state
// and closes the log. Returns lifecycle.ErrNotRunning if not started.
func (p *Partition) Stop() error {
	p.mu.Lock()
	if !p.lifecycle.CanStop() {
		p.mu.Unlock()
		return lifecycle.ErrNotRunning
	}
	if err := p.lifecycle.TransitionTo(lifecycle.StateStopping, "Stop() called"); err != nil {
		p.mu.Unlock()
		return err
	}
	orch, pers := p.orch, p.persister
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if orch != nil {
		if _, err := orch.Shutdown().Get(ctx); err != nil && !errors.Is(err, transition.ErrClosed) {
			errs = append(errs, fmt.Errorf("final transition: %w", err))
			orch.Abort(err)
		}
	}

	p.lifecycle.Cancel()
	if err := p.lifecycle.WaitWithTimeout(p.cfg.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if pers != nil {
		if err := pers.flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("save committed state: %w", err))
		}
	}

	p.mu.Lock()
	p.closeResources()
	p.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		_ = p.lifecycle.TransitionTo(lifecycle.StateCrashed, err.Error())
		return err
	}
	_ = p.lifecycle.TransitionTo(lifecycle.StateStopped, "graceful shutdown")
	return nil
}

// closeResources releases everything open created. Callers hold p.mu.
func (p *Partition) closeResources() {
	if p.actor != nil {
		p.actor.Close()
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			p.logger.Error("close log failed", log.Err(err))
		}
	}
	p.actor, p.store, p.tctx, p.orch = nil, nil, nil, nil
}
