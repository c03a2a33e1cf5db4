// Package state persists the last committed role of a partition.
//
// The orchestrator only commits a (term, role) after every step of the
// transition succeeded. Saving that commit lets a restarted node reject
// requests for terms it has already moved past.
//
// # Usage
//
//	repo := state.NewFileRepository("/var/lib/roleshift/state", 1)
//
//	s, err := repo.Load(ctx)
//	if err != nil {
//	    return err
//	}
//
//	// ... commit a transition ...
//
//	if err := repo.Save(ctx, s); err != nil {
//	    return err
//	}
//
// Files are replaced atomically and fsynced, so a crash leaves either the
// previous or the new state on disk.
package state
