package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bft-labs/roleshift/pkg/lifecycle"
	"github.com/bft-labs/roleshift/pkg/transition"
)

func TestRecorder_TransitionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, 3)

	req := transition.Request{Term: 4, Role: transition.RoleLeader, Generation: 1}
	r.OnTransitionStarted(req)
	if got := testutil.ToFloat64(r.inFlight.WithLabelValues("3")); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}

	r.OnStepCompleted(req, "engine", transition.PhaseActivate, 5*time.Millisecond, nil)
	r.OnStepCompleted(req, "engine", transition.PhasePrepare, time.Millisecond, errors.New("boom"))
	r.OnTransitionFinished(req, transition.OutcomeCommitted, 10*time.Millisecond, nil)

	if got := testutil.ToFloat64(r.inFlight.WithLabelValues("3")); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.transitions.WithLabelValues("3", "leader", "committed")); got != 1 {
		t.Errorf("transitions_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.stepFailures.WithLabelValues("3", "engine", "prepare")); got != 1 {
		t.Errorf("step_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.committedTerm.WithLabelValues("3")); got != 4 {
		t.Errorf("committed_term = %v, want 4", got)
	}
	if got := testutil.ToFloat64(r.committedRole.WithLabelValues("3", "leader")); got != 1 {
		t.Errorf("committed_role{leader} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.committedRole.WithLabelValues("3", "follower")); got != 0 {
		t.Errorf("committed_role{follower} = %v, want 0", got)
	}
	if count := testutil.CollectAndCount(r.stepTime); count != 2 {
		t.Errorf("step duration series = %d, want 2", count)
	}
}

func TestRecorder_SupersededDoesNotMoveCommitted(t *testing.T) {
	r := New(prometheus.NewRegistry(), 1)

	r.OnTransitionFinished(transition.Request{Term: 2, Role: transition.RoleLeader}, transition.OutcomeCommitted, 0, nil)
	r.OnTransitionFinished(transition.Request{Term: 3, Role: transition.RoleFollower}, transition.OutcomeSuperseded, 0, nil)

	if got := testutil.ToFloat64(r.committedTerm.WithLabelValues("1")); got != 2 {
		t.Errorf("committed_term = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.transitions.WithLabelValues("1", "follower", "superseded")); got != 1 {
		t.Errorf("superseded count = %v, want 1", got)
	}
}

func TestRecorder_PartitionState(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, 1)

	r.OnStateChange(lifecycle.StateStarting, lifecycle.StateRunning, "test")

	expected := `
# HELP roleshift_partition_state 1 for the current partition lifecycle state, 0 otherwise
# TYPE roleshift_partition_state gauge
roleshift_partition_state{partition="1",state="Crashed"} 0
roleshift_partition_state{partition="1",state="Running"} 1
roleshift_partition_state{partition="1",state="Starting"} 0
roleshift_partition_state{partition="1",state="Stopped"} 0
roleshift_partition_state{partition="1",state="Stopping"} 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "roleshift_partition_state"); err != nil {
		t.Error(err)
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, 1)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	New(reg, 2)
}
