// Package logstore is the durable, append-only record log of a partition.
//
// Records are addressed by a position that starts at 1 and grows by one per
// append. Consumers open a [Reader] positioned after a known position and
// keep named checkpoints so they can resume after a restart.
//
// [Store] keeps the log in BadgerDB:
//
//	store, err := logstore.Open(logstore.Options{Dir: "/var/lib/roleshift/p1"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	pos, err := store.Append(term, payload)
package logstore
