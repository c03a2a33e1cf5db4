// Package engine implements the partition's record-processing engine.
//
// A Processor is bound to one term. Open replays the log from the last saved
// checkpoint, reports open once it caught up, then keeps polling for new
// records until Close. Close stops the loop, saves the checkpoint and
// releases the log reader; it is safe in every state.
//
// Processors are created by the transition engine step through the factory
// returned by NewFactory, so at most one of them runs per partition.
package engine
