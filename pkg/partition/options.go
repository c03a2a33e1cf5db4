package partition

import (
	"github.com/bft-labs/roleshift/pkg/engine"
	"github.com/bft-labs/roleshift/pkg/health"
	"github.com/bft-labs/roleshift/pkg/lifecycle"
	"github.com/bft-labs/roleshift/pkg/log"
	"github.com/bft-labs/roleshift/pkg/state"
	"github.com/bft-labs/roleshift/pkg/transition"
)

// Option configures optional behavior of a Partition.
type Option func(*options)

type options struct {
	logger        log.Logger
	handler       engine.RecordHandler
	engineFactory transition.EngineFactory
	steps         []transition.Step
	listeners     []transition.Listener
	eventHandler  lifecycle.EventEmitter
	health        *health.Monitor
	stateRepo     state.Repository
}

// WithLogger sets the logger. If not provided, nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRecordHandler sets the handler the engine applies records with.
// Defaults to engine.LogHandler.
func WithRecordHandler(h engine.RecordHandler) Option {
	return func(o *options) {
		o.handler = h
	}
}

// WithEngineFactory replaces the engine built for leader terms.
func WithEngineFactory(f transition.EngineFactory) Option {
	return func(o *options) {
		o.engineFactory = f
	}
}

// WithStep adds a step to the chain. Added steps run before the engine
// step, in registration order.
func WithStep(step transition.Step) Option {
	return func(o *options) {
		o.steps = append(o.steps, step)
	}
}

// WithListener registers a transition listener, such as metrics.
func WithListener(l transition.Listener) Option {
	return func(o *options) {
		o.listeners = append(o.listeners, l)
	}
}

// WithEventHandler receives partition lifecycle state changes.
func WithEventHandler(h lifecycle.EventEmitter) Option {
	return func(o *options) {
		o.eventHandler = h
	}
}

// WithHealthMonitor shares a health monitor across partitions.
func WithHealthMonitor(m *health.Monitor) Option {
	return func(o *options) {
		o.health = m
	}
}

// WithStateRepository replaces the file-based committed-state store.
func WithStateRepository(r state.Repository) Option {
	return func(o *options) {
		o.stateRepo = r
	}
}
