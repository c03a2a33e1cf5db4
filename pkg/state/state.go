package state

import "time"

// State is the persisted commit of one partition.
type State struct {
	// PartitionID is the partition the state belongs to.
	PartitionID int `json:"partition_id"`

	// Term is the committed term.
	Term int64 `json:"term"`

	// Role is the committed role name.
	Role string `json:"role"`

	// Generation is the orchestrator generation that committed.
	Generation uint64 `json:"generation"`

	// CommittedAt is when the commit happened.
	CommittedAt time.Time `json:"committed_at"`
}

// IsEmpty returns true if nothing was ever committed.
func (s State) IsEmpty() bool {
	return s.Generation == 0 && s.Term == 0 && s.Role == ""
}

// Advance records a new commit. Commits for a lower term are ignored and
// reported as false.
func (s *State) Advance(term int64, role string, generation uint64, at time.Time) bool {
	if term < s.Term {
		return false
	}
	s.Term = term
	s.Role = role
	s.Generation = generation
	s.CommittedAt = at
	return true
}
