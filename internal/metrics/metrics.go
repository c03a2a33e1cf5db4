// Package metrics exports transition and partition lifecycle metrics to
// Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bft-labs/roleshift/pkg/lifecycle"
	"github.com/bft-labs/roleshift/pkg/transition"
)

var allRoles = []transition.Role{
	transition.RoleInactive,
	transition.RoleFollower,
	transition.RoleCandidate,
	transition.RoleLeader,
}

var allStates = []lifecycle.State{
	lifecycle.StateStopped,
	lifecycle.StateStarting,
	lifecycle.StateRunning,
	lifecycle.StateStopping,
	lifecycle.StateCrashed,
}

// Recorder records metrics of one partition. It implements
// transition.Listener and lifecycle.EventEmitter.
type Recorder struct {
	transition.BaseListener

	partition string

	transitions     *prometheus.CounterVec
	transitionTime  *prometheus.HistogramVec
	stepTime        *prometheus.HistogramVec
	stepFailures    *prometheus.CounterVec
	inFlight        *prometheus.GaugeVec
	committedTerm   *prometheus.GaugeVec
	committedRole   *prometheus.GaugeVec
	partitionStatus *prometheus.GaugeVec
}

// New registers the partition's metrics with reg.
func New(reg prometheus.Registerer, partitionID int) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		partition: strconv.Itoa(partitionID),

		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roleshift_transitions_total",
			Help: "Finished role transitions by target role and outcome",
		}, []string{"partition", "role", "outcome"}),

		transitionTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roleshift_transition_duration_seconds",
			Help:    "Time from request to outcome of a role transition",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"partition", "outcome"}),

		stepTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roleshift_step_duration_seconds",
			Help:    "Duration of step prepare and activate operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"partition", "step", "phase"}),

		stepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roleshift_step_failures_total",
			Help: "Failed step operations",
		}, []string{"partition", "step", "phase"}),

		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roleshift_transitions_in_flight",
			Help: "Transitions requested and not yet finished",
		}, []string{"partition"}),

		committedTerm: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roleshift_committed_term",
			Help: "Term of the last committed transition",
		}, []string{"partition"}),

		committedRole: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roleshift_committed_role",
			Help: "1 for the role of the last committed transition, 0 otherwise",
		}, []string{"partition", "role"}),

		partitionStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roleshift_partition_state",
			Help: "1 for the current partition lifecycle state, 0 otherwise",
		}, []string{"partition", "state"}),
	}
}

// OnTransitionStarted implements transition.Listener.
func (r *Recorder) OnTransitionStarted(transition.Request) {
	r.inFlight.WithLabelValues(r.partition).Inc()
}

// OnStepCompleted implements transition.Listener.
func (r *Recorder) OnStepCompleted(_ transition.Request, step string, phase transition.Phase, took time.Duration, err error) {
	r.stepTime.WithLabelValues(r.partition, step, phase.String()).Observe(took.Seconds())
	if err != nil {
		r.stepFailures.WithLabelValues(r.partition, step, phase.String()).Inc()
	}
}

// OnTransitionFinished implements transition.Listener.
func (r *Recorder) OnTransitionFinished(req transition.Request, outcome transition.Outcome, took time.Duration, _ error) {
	r.inFlight.WithLabelValues(r.partition).Dec()
	r.transitions.WithLabelValues(r.partition, req.Role.String(), outcome.String()).Inc()
	r.transitionTime.WithLabelValues(r.partition, outcome.String()).Observe(took.Seconds())

	if outcome != transition.OutcomeCommitted {
		return
	}
	r.committedTerm.WithLabelValues(r.partition).Set(float64(req.Term))
	for _, role := range allRoles {
		v := 0.0
		if role == req.Role {
			v = 1
		}
		r.committedRole.WithLabelValues(r.partition, role.String()).Set(v)
	}
}

// OnStateChange implements lifecycle.EventEmitter.
func (r *Recorder) OnStateChange(_, current lifecycle.State, _ string) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		r.partitionStatus.WithLabelValues(r.partition, s.String()).Set(v)
	}
}
