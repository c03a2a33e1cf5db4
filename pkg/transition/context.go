package transition

import (
	"sync"

	"github.com/bft-labs/roleshift/pkg/concurrency"
	"github.com/bft-labs/roleshift/pkg/health"
	"github.com/bft-labs/roleshift/pkg/logstore"
)

// Committed is the last (term, role) a transition committed.
type Committed struct {
	Term       int64
	Role       Role
	Generation uint64
}

// Context holds the per-partition facts steps share.
//
// Apart from Committed, fields are only read and written on the
// orchestrator's actor. Each field has one owning step; the engine handle
// belongs to EngineStep.
type Context struct {
	partitionID int
	exec        concurrency.Executor
	log         logstore.Log
	health      health.Sink

	term   int64
	role   Role
	engine EngineInstance

	mu        sync.RWMutex
	committed Committed
}

// NewContext creates the context of one partition. exec must be the actor the
// orchestrator runs on.
func NewContext(partitionID int, exec concurrency.Executor, lg logstore.Log, sink health.Sink) *Context {
	return &Context{
		partitionID: partitionID,
		exec:        exec,
		log:         lg,
		health:      sink,
	}
}

// PartitionID returns the partition this context belongs to.
func (c *Context) PartitionID() int { return c.partitionID }

// Executor returns the actor steps must resume on before touching the context.
func (c *Context) Executor() concurrency.Executor { return c.exec }

// Log returns the partition's durable log.
func (c *Context) Log() logstore.Log { return c.log }

// Health returns the sink for component health reports.
func (c *Context) Health() health.Sink { return c.health }

// Term is the term of the transition currently running.
func (c *Context) Term() int64 { return c.term }

// Role is the target role of the transition currently running.
func (c *Context) Role() Role { return c.role }

// Engine returns the installed engine instance, nil if none.
func (c *Context) Engine() EngineInstance { return c.engine }

// SetEngine installs or clears (nil) the engine instance.
func (c *Context) SetEngine(e EngineInstance) { c.engine = e }

// Committed returns the last committed (term, role). Safe from any goroutine.
func (c *Context) Committed() Committed {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.committed
}

func (c *Context) setTarget(term int64, role Role) {
	c.term = term
	c.role = role
}

func (c *Context) commit(v Committed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = v
}
