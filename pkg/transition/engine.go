package transition

import (
	"fmt"

	"github.com/bft-labs/roleshift/pkg/concurrency"
	"github.com/bft-labs/roleshift/pkg/logstore"
)

// EngineState is the lifecycle state of an engine instance.
type EngineState int

const (
	EngineCreated EngineState = iota
	EngineOpening
	EngineOpen
	EngineClosing
	EngineClosed
	EngineFailed
)

// String returns a human-readable representation of the state.
func (s EngineState) String() string {
	switch s {
	case EngineCreated:
		return "Created"
	case EngineOpening:
		return "Opening"
	case EngineOpen:
		return "Open"
	case EngineClosing:
		return "Closing"
	case EngineClosed:
		return "Closed"
	case EngineFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Active reports whether an instance in this state counts against the
// one-instance-per-partition limit.
func (s EngineState) Active() bool {
	return s == EngineOpening || s == EngineOpen
}

// ValidateEngineTransition checks a lifecycle move of an engine instance.
//
// Valid moves:
//   - Created -> Opening, Closing
//   - Opening -> Open, Failed
//   - Open -> Closing
//   - Failed -> Closing
//   - Closing -> Closed
func ValidateEngineTransition(from, to EngineState) error {
	ok := false
	switch from {
	case EngineCreated:
		ok = to == EngineOpening || to == EngineClosing
	case EngineOpening:
		ok = to == EngineOpen || to == EngineFailed
	case EngineOpen, EngineFailed:
		ok = to == EngineClosing
	case EngineClosing:
		ok = to == EngineClosed
	}
	if !ok {
		return fmt.Errorf("invalid engine state change %s -> %s", from, to)
	}
	return nil
}

// EngineInstance is the partition's event-processing engine.
// Close must be safe in every state and complete immediately once closed.
type EngineInstance interface {
	ID() string
	Term() int64
	State() EngineState
	Open() *concurrency.Future[struct{}]
	Close() *concurrency.Future[struct{}]
}

// EngineParams identifies the engine to build.
type EngineParams struct {
	PartitionID int
	Term        int64
	Log         logstore.Log
}

// EngineFactory builds a new, unopened engine instance.
type EngineFactory func(EngineParams) (EngineInstance, error)
