package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/roleshift/pkg/concurrency"
	"github.com/bft-labs/roleshift/pkg/lifecycle"
	"github.com/bft-labs/roleshift/pkg/log"
	"github.com/bft-labs/roleshift/pkg/logstore"
	"github.com/bft-labs/roleshift/pkg/transition"
)

// Default processor configuration values.
const (
	DefaultPollInterval   = 200 * time.Millisecond
	DefaultBatchSize      = 128
	DefaultCheckpointName = "engine"
)

// Config controls the processing loop.
type Config struct {
	// PollInterval is how long to wait after catching up before reading again.
	PollInterval time.Duration

	// BatchSize is the number of records read at once.
	BatchSize int

	// CheckpointName is the log checkpoint that stores progress.
	CheckpointName string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.CheckpointName == "" {
		c.CheckpointName = DefaultCheckpointName
	}
	return c
}

// Processor is an engine instance bound to a single term.
type Processor struct {
	id          string
	partitionID int
	term        int64
	log         logstore.Log
	handler     RecordHandler
	cfg         Config
	logger      log.Logger

	mu      sync.Mutex
	state   transition.EngineState
	opened  *concurrency.Future[struct{}]
	closed  *concurrency.Future[struct{}]
	cancel  context.CancelFunc
	done    chan struct{}
	pending []logstore.Record

	position  atomic.Uint64
	processed atomic.Uint64
}

var _ transition.EngineInstance = (*Processor)(nil)

// New creates an unopened processor for params.
func New(params transition.EngineParams, handler RecordHandler, cfg Config, logger log.Logger) (*Processor, error) {
	if params.Log == nil {
		return nil, errors.New("engine: log is required")
	}
	if handler == nil {
		return nil, errors.New("engine: record handler is required")
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	id := uuid.NewString()
	return &Processor{
		id:          id,
		partitionID: params.PartitionID,
		term:        params.Term,
		log:         params.Log,
		handler:     handler,
		cfg:         cfg.withDefaults(),
		logger: logger.With(
			log.Partition(params.PartitionID),
			log.String("engine", id),
			log.Term(params.Term),
		),
		state: transition.EngineCreated,
	}, nil
}

// NewFactory returns an EngineFactory building processors with handler.
func NewFactory(handler RecordHandler, cfg Config, logger log.Logger) transition.EngineFactory {
	return func(params transition.EngineParams) (transition.EngineInstance, error) {
		return New(params, handler, cfg, logger)
	}
}

// ID returns the instance identifier.
func (p *Processor) ID() string { return p.id }

// Term returns the term the processor is bound to.
func (p *Processor) Term() int64 { return p.term }

// State returns the lifecycle state.
func (p *Processor) State() transition.EngineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position returns the position of the last handled record.
func (p *Processor) Position() uint64 { return p.position.Load() }

// Processed returns how many records this instance handled.
func (p *Processor) Processed() uint64 { return p.processed.Load() }

// Open starts replay and completes once the processor caught up with the log.
// Calling Open again returns the same future.
func (p *Processor) Open() *concurrency.Future[struct{}] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.opened != nil {
		return p.opened
	}
	p.opened = concurrency.NewFuture[struct{}]()
	if p.closed != nil {
		p.opened.Fail(errors.New("engine: open after close"))
		return p.opened
	}
	if err := p.setStateLocked(transition.EngineOpening); err != nil {
		p.opened.Fail(err)
		return p.opened
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.opened)
	return p.opened
}

// Close stops processing and releases the reader. Safe in every state; later
// calls return the same future.
func (p *Processor) Close() *concurrency.Future[struct{}] {
	p.mu.Lock()
	if p.closed != nil {
		f := p.closed
		p.mu.Unlock()
		return f
	}
	f := concurrency.NewFuture[struct{}]()
	p.closed = f
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	go func() {
		if cancel != nil {
			cancel()
			<-done
		}
		p.mu.Lock()
		_ = p.setStateLocked(transition.EngineClosing)
		_ = p.setStateLocked(transition.EngineClosed)
		p.mu.Unlock()

		p.logger.Info("engine stopped",
			log.Uint64("position", p.Position()),
			log.Uint64("processed", p.Processed()),
		)
		f.Complete(struct{}{})
	}()
	return f
}

func (p *Processor) run(ctx context.Context, opened *concurrency.Future[struct{}]) {
	defer close(p.done)

	reader, err := p.openReader()
	if err != nil {
		p.failOpen(opened, err)
		return
	}
	defer p.release(reader)

	// Replay until caught up.
	for {
		n, err := p.step(ctx, reader)
		if err != nil {
			p.failOpen(opened, fmt.Errorf("replay: %w", err))
			return
		}
		if n == 0 {
			break
		}
	}

	p.mu.Lock()
	err = p.setStateLocked(transition.EngineOpen)
	p.mu.Unlock()
	if err != nil {
		opened.Fail(err)
		return
	}
	p.logger.Info("engine open", log.Uint64("position", p.Position()))
	opened.Complete(struct{}{})

	p.poll(ctx, reader)
}

func (p *Processor) openReader() (logstore.Reader, error) {
	from, err := p.log.Checkpoint(p.cfg.CheckpointName)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	p.position.Store(from)

	reader, err := p.log.OpenReader(from)
	if err != nil {
		return nil, fmt.Errorf("open reader: %w", err)
	}
	p.logger.Debug("engine replaying", log.Uint64("from", from))
	return reader, nil
}

func (p *Processor) poll(ctx context.Context, reader logstore.Reader) {
	backoff := lifecycle.NewBackoff(p.cfg.PollInterval, 10*p.cfg.PollInterval)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := p.step(ctx, reader)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			p.logger.Warn("record processing failed, retrying",
				log.Uint64("position", p.Position()),
				log.Duration("backoff", backoff.Current()),
				log.Err(err),
			)
			if backoff.Wait(ctx) != nil {
				return
			}
			continue
		}
		backoff.Reset()
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// step handles the pending records, reading a new batch if none are pending,
// and saves the checkpoint. It returns how many records it handled.
func (p *Processor) step(ctx context.Context, reader logstore.Reader) (int, error) {
	if len(p.pending) == 0 {
		recs, err := reader.Next(p.cfg.BatchSize)
		if err != nil {
			return 0, err
		}
		p.pending = recs
	}

	n := 0
	for len(p.pending) > 0 {
		if err := ctx.Err(); err != nil {
			break
		}
		rec := p.pending[0]
		if err := p.handler.Handle(ctx, rec); err != nil {
			p.checkpoint(n)
			return n, fmt.Errorf("handle record %d: %w", rec.Position, err)
		}
		p.pending = p.pending[1:]
		p.position.Store(rec.Position)
		p.processed.Add(1)
		n++
	}
	p.checkpoint(n)
	return n, ctx.Err()
}

func (p *Processor) checkpoint(handled int) {
	if handled == 0 {
		return
	}
	if err := p.log.SaveCheckpoint(p.cfg.CheckpointName, p.Position()); err != nil {
		p.logger.Warn("save checkpoint failed", log.Uint64("position", p.Position()), log.Err(err))
	}
}

func (p *Processor) release(reader logstore.Reader) {
	if err := p.log.SaveCheckpoint(p.cfg.CheckpointName, p.Position()); err != nil && !errors.Is(err, logstore.ErrClosed) {
		p.logger.Warn("save checkpoint on close failed", log.Err(err))
	}
	if err := reader.Close(); err != nil {
		p.logger.Warn("close reader failed", log.Err(err))
	}
}

func (p *Processor) failOpen(opened *concurrency.Future[struct{}], err error) {
	p.mu.Lock()
	_ = p.setStateLocked(transition.EngineFailed)
	p.mu.Unlock()

	p.logger.Error("engine open failed", log.Err(err))
	opened.Fail(err)
}

func (p *Processor) setStateLocked(to transition.EngineState) error {
	if err := transition.ValidateEngineTransition(p.state, to); err != nil {
		return err
	}
	p.state = to
	return nil
}
