// Package transition moves a partition between replication roles.
//
// When the replication layer decides a new role at a new term it calls
// [Orchestrator.TransitionTo]. The orchestrator runs a fixed [Chain] of
// [Step]s: first every step's Prepare (tear down what the new role must not
// keep), then every step's Activate (bring up what the new role needs). All
// of it runs on one [concurrency.Actor], so steps never race each other.
//
// # Supersession
//
// Requests may arrive faster than transitions finish. A newer request marks
// the running transition superseded and resolves its future with
// [OutcomeSuperseded] straight away. The step that was in flight keeps running
// to completion, but the superseded chain never starts another step, and the
// new chain waits for that in-flight step before its first Prepare. A step is
// therefore never invoked concurrently with itself, which is what keeps the
// [EngineStep] from ever having two engine instances open.
//
// # Transition States
//
//   - Requested -> Preparing, Superseded
//   - Preparing -> Activating, Superseded, Failed
//   - Activating -> Committed, Superseded, Failed
//
// Committed, Superseded and Failed are terminal.
package transition
