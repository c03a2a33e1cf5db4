// Package partition runs one partition of a replicated service: its durable
// log, the transition orchestrator with the engine step, committed-state
// persistence and health reporting.
//
// # Basic Usage
//
//	p, err := partition.New(partition.Config{
//	    PartitionID: 1,
//	    DataDir:     "/var/lib/roleshift/data",
//	    StateDir:    "/var/lib/roleshift/state",
//	}, partition.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := p.Start(ctx); err != nil {
//	    return err
//	}
//	defer p.Stop()
//
//	outcome, err := p.TransitionTo(2, transition.RoleLeader).Get(ctx)
//
// Role changes come from replication. TransitionTo may be called from any
// goroutine; requests for a term lower than one already requested fail with
// transition.ErrOrchestratorMisuse.
//
// # Lifecycle
//
// A Partition moves through the lifecycle states Stopped, Starting, Running,
// Stopping and Crashed. Stop performs a final transition to
// transition.RoleInactive so every step releases its resources before the log
// is closed.
//
// # Persistence
//
// Every committed (term, role) is written to the state directory. On restart
// the orchestrator is seeded with it so stale requests stay rejected.
//
// # Retention
//
// Records the engine has checkpointed are pruned periodically, keeping the
// newest Config.RetainRecords of them. Set Config.DisableRetention to keep the
// whole log.
package partition
