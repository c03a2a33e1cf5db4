// Package roleshift coordinates role transitions of a partition replica.
//
// A partition moves between the inactive, follower, candidate and leader
// roles as (term, role) requests arrive. Each request runs a chain of steps
// in two phases: every step prepares (tears down what the old role needs
// torn down), then every step activates. A newer request supersedes one that
// is still running, and a request with a lower term than one already seen is
// rejected.
//
// Example usage:
//
//	p, err := roleshift.New(roleshift.Config{PartitionID: 1, DataDir: "/var/lib/rs", StateDir: "/var/lib/rs/state"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := p.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Stop()
//
//	outcome, err := p.TransitionTo(5, roleshift.RoleLeader).Get(ctx)
package roleshift

import (
	"github.com/bft-labs/roleshift/pkg/partition"
	"github.com/bft-labs/roleshift/pkg/transition"
)

// Partition is one partition replica.
type Partition = partition.Partition

// Config holds the configuration of a partition.
type Config = partition.Config

// Option configures a partition.
type Option = partition.Option

// Role is a replica role.
type Role = transition.Role

// Outcome is the result of a transition request.
type Outcome = transition.Outcome

// Roles.
const (
	RoleInactive  = transition.RoleInactive
	RoleFollower  = transition.RoleFollower
	RoleCandidate = transition.RoleCandidate
	RoleLeader    = transition.RoleLeader
)

// Outcomes.
const (
	OutcomeCommitted  = transition.OutcomeCommitted
	OutcomeSuperseded = transition.OutcomeSuperseded
)

// New creates a stopped partition. Call Start to open it.
func New(cfg Config, opts ...Option) (*Partition, error) {
	return partition.New(cfg, opts...)
}
