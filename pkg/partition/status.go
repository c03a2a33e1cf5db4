package partition

import (
	"context"

	"github.com/bft-labs/roleshift/pkg/transition"
)

// Status is a point-in-time view of the partition.
type Status struct {
	PartitionID   int             `json:"partition_id"`
	State         string          `json:"state"`
	Committed     CommittedStatus `json:"committed"`
	FirstPosition uint64          `json:"first_position"`
	LastPosition  uint64          `json:"last_position"`
	Engine        *EngineStatus   `json:"engine,omitempty"`
}

// CommittedStatus is the committed (term, role).
type CommittedStatus struct {
	Term       int64           `json:"term"`
	Role       transition.Role `json:"role"`
	Generation uint64          `json:"generation"`
}

// EngineStatus describes the installed engine instance.
type EngineStatus struct {
	ID        string `json:"id"`
	Term      int64  `json:"term"`
	State     string `json:"state"`
	Position  uint64 `json:"position"`
	Processed uint64 `json:"processed"`
}

// progress is implemented by engines that report how far they got.
type progress interface {
	Position() uint64
	Processed() uint64
}

// Status collects the partition status. The engine is read on the
// orchestrator's actor, so ctx bounds the wait for it.
func (p *Partition) Status(ctx context.Context) (Status, error) {
	p.mu.RLock()
	store, actor, tctx, orch := p.store, p.actor, p.tctx, p.orch
	p.mu.RUnlock()

	st := Status{
		PartitionID: p.cfg.PartitionID,
		State:       p.lifecycle.State().String(),
	}
	if orch == nil {
		return st, nil
	}

	c := orch.Committed()
	st.Committed = CommittedStatus{Term: c.Term, Role: c.Role, Generation: c.Generation}

	last, err := store.LastPosition()
	if err != nil {
		return st, err
	}
	st.LastPosition = last

	first, err := store.FirstPosition()
	if err != nil {
		return st, err
	}
	st.FirstPosition = first

	var es *EngineStatus
	err = actor.Call(ctx, func() {
		inst := tctx.Engine()
		if inst == nil {
			return
		}
		es = &EngineStatus{
			ID:    inst.ID(),
			Term:  inst.Term(),
			State: inst.State().String(),
		}
		if pr, ok := inst.(progress); ok {
			es.Position = pr.Position()
			es.Processed = pr.Processed()
		}
	})
	if err != nil {
		return st, err
	}
	st.Engine = es
	return st, nil
}
