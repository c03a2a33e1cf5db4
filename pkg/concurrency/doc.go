// Package concurrency provides the single-threaded execution context and the
// future type that transition steps and the orchestrator are built on.
//
// An [Actor] owns one goroutine that runs submitted jobs one after another.
// Everything that touches partition transition state runs as an actor job, so
// no locking is needed for that state. Work that has to wait (I/O, another
// component opening) runs elsewhere and completes a [Future]; callers resume
// on the actor with [OnCompleteOn].
//
// # Usage
//
//	actor := concurrency.NewActor("partition-1")
//	defer actor.Close()
//
//	f := concurrency.NewFuture[int]()
//	go func() { f.Complete(42) }()
//	concurrency.OnCompleteOn(actor, f, func(v int, err error) {
//	    // runs on the actor goroutine
//	})
package concurrency
