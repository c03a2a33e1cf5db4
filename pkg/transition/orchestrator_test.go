package transition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/roleshift/pkg/concurrency"
	"github.com/bft-labs/roleshift/pkg/health"
)

func twoSteps(a, b **scriptedStep) func(f *fixture) []Step {
	return func(f *fixture) []Step {
		*a = newScriptedStep("a", f.rec)
		*b = newScriptedStep("b", f.rec)
		return []Step{*a, *b}
	}
}

func TestOrchestrator_RunsPreparesThenActivatesInOrder(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b))

	outcome, err := await(t, f.orch.TransitionTo(3, RoleLeader))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)

	assert.Equal(t, []string{
		"a.prepare(3,leader)",
		"b.prepare(3,leader)",
		"a.activate(3,leader)",
		"b.activate(3,leader)",
	}, f.rec.Calls())

	assert.Equal(t, Committed{Term: 3, Role: RoleLeader, Generation: 1}, f.orch.Committed())

	r, ok := f.health.Get("partition-1-transition")
	require.True(t, ok)
	assert.Equal(t, health.StatusHealthy, r.Status)
}

func TestOrchestrator_EmptyChainCommits(t *testing.T) {
	f := newFixture(t, func(*fixture) []Step { return nil })

	outcome, err := await(t, f.orch.TransitionTo(1, RoleFollower))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)
	assert.Equal(t, RoleFollower, f.orch.Committed().Role)
}

func TestOrchestrator_StepFailureAbortsChain(t *testing.T) {
	tests := []struct {
		name     string
		phase    Phase
		sentinel error
		calls    []string
	}{
		{
			name:     "prepare",
			phase:    PhasePrepare,
			sentinel: ErrStepPrepareFailed,
			calls:    []string{"a.prepare(2,follower)"},
		},
		{
			name:     "activate",
			phase:    PhaseActivate,
			sentinel: ErrStepActivateFailed,
			calls: []string{
				"a.prepare(2,follower)",
				"b.prepare(2,follower)",
				"a.activate(2,follower)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a, b *scriptedStep
			f := newFixture(t, twoSteps(&a, &b))

			_, err := await(t, f.orch.TransitionTo(1, RoleLeader))
			require.NoError(t, err)

			a.failOn(tt.phase, 2, errStorage)
			f.rec = &recorder{}
			a.rec, b.rec = f.rec, f.rec

			_, err = await(t, f.orch.TransitionTo(2, RoleFollower))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.ErrorIs(t, err, errStorage)

			var se *StepError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "a", se.Step)
			assert.Equal(t, tt.phase, se.Phase)
			assert.Equal(t, int64(2), se.Term)
			assert.Equal(t, RoleFollower, se.Role)

			assert.Equal(t, tt.calls, f.rec.Calls())
			assert.Equal(t, Committed{Term: 1, Role: RoleLeader, Generation: 1}, f.orch.Committed())

			r, ok := f.health.Get("partition-1-transition")
			require.True(t, ok)
			assert.Equal(t, health.StatusUnhealthy, r.Status)
		})
	}
}

func TestOrchestrator_RecoversStepPanic(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b))
	b.panicOn(PhasePrepare, 1)

	_, err := await(t, f.orch.TransitionTo(1, RoleLeader))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepPrepareFailed)
	assert.Contains(t, err.Error(), "scripted panic")

	// The orchestrator keeps serving requests.
	outcome, err := await(t, f.orch.TransitionTo(2, RoleLeader))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)
}

func TestOrchestrator_RejectsLowerTerm(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b))

	_, err := await(t, f.orch.TransitionTo(5, RoleLeader))
	require.NoError(t, err)

	_, err = await(t, f.orch.TransitionTo(4, RoleFollower))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrchestratorMisuse)

	var me *MisuseError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, int64(4), me.Term)
	assert.Equal(t, int64(5), me.Highest)

	assert.Equal(t, Committed{Term: 5, Role: RoleLeader, Generation: 1}, f.orch.Committed())
}

func TestOrchestrator_SameTermRequestsAreDistinct(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b))
	release := a.hold(PhasePrepare, 1)

	first := f.orch.TransitionTo(1, RoleLeader)
	second := f.orch.TransitionTo(1, RoleLeader)

	outcome, err := await(t, first)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuperseded, outcome)

	release()
	outcome, err = await(t, second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)
	assert.Equal(t, uint64(2), f.orch.Committed().Generation)
}

func TestOrchestrator_SupersededResolvesWhileStepRuns(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b))
	release := a.hold(PhaseActivate, 1)
	defer release()

	first := f.orch.TransitionTo(1, RoleFollower)
	f.sync(t)
	require.Contains(t, f.rec.Calls(), "a.activate(1,follower)")

	second := f.orch.TransitionTo(2, RoleLeader)

	// Resolved before the held step returns.
	outcome, err := await(t, first)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuperseded, outcome)
	assert.False(t, second.IsDone())

	release()
	outcome, err = await(t, second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)
	assert.Equal(t, Committed{Term: 2, Role: RoleLeader, Generation: 2}, f.orch.Committed())
}

func TestOrchestrator_NewChainWaitsForInFlightStep(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b))
	release := a.hold(PhasePrepare, 1)

	f.orch.TransitionTo(1, RoleFollower)
	second := f.orch.TransitionTo(2, RoleLeader)
	f.sync(t)

	assert.Equal(t, []string{"a.prepare(1,follower)"}, f.rec.Calls())

	release()
	_, err := await(t, second)
	require.NoError(t, err)

	// The superseded chain stops after its in-flight step.
	assert.Equal(t, []string{
		"a.prepare(1,follower)",
		"a.prepare(2,leader)",
		"b.prepare(2,leader)",
		"a.activate(2,leader)",
		"b.activate(2,leader)",
	}, f.rec.Calls())
	assert.Zero(t, a.Overlaps())
	assert.Zero(t, b.Overlaps())
}

func TestOrchestrator_LateFailureOfSupersededStepIsIgnored(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b))
	release := a.hold(PhaseActivate, 1)
	a.failOn(PhaseActivate, 1, errStorage)

	first := f.orch.TransitionTo(1, RoleFollower)
	f.sync(t)
	second := f.orch.TransitionTo(2, RoleLeader)

	outcome, err := await(t, first)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuperseded, outcome)

	release()
	outcome, err = await(t, second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)

	r, ok := f.health.Get("partition-1-transition")
	require.True(t, ok)
	assert.Equal(t, health.StatusHealthy, r.Status)
}

func TestOrchestrator_CommittedNeverGoesBackwards(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b))

	var releases []func()
	var futures []*concurrency.Future[Outcome]
	for term := int64(1); term <= 5; term++ {
		releases = append(releases, a.hold(PhaseActivate, term))
		futures = append(futures, f.orch.TransitionTo(term, RoleLeader))
		f.sync(t)
	}

	var last uint64
	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
		f.sync(t)
		c := f.orch.Committed()
		assert.GreaterOrEqual(t, c.Generation, last)
		last = c.Generation
	}

	outcome, err := await(t, futures[4])
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)
	for _, fut := range futures[:4] {
		outcome, err := await(t, fut)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSuperseded, outcome)
	}
	assert.Equal(t, Committed{Term: 5, Role: RoleLeader, Generation: 5}, f.orch.Committed())
}

func TestOrchestrator_WithRestored(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b), WithRestored(7, 3))

	assert.Equal(t, Committed{Term: 7, Role: RoleInactive, Generation: 3}, f.orch.Committed())
	assert.Empty(t, f.rec.Calls())

	_, err := await(t, f.orch.TransitionTo(6, RoleLeader))
	assert.ErrorIs(t, err, ErrOrchestratorMisuse)

	outcome, err := await(t, f.orch.TransitionTo(7, RoleLeader))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)
	assert.Equal(t, Committed{Term: 7, Role: RoleLeader, Generation: 4}, f.orch.Committed())
}

func TestOrchestrator_ShutdownTearsDownAndRejectsLaterRequests(t *testing.T) {
	f := newFixture(t, func(f *fixture) []Step {
		return []Step{NewEngineStep(f.tracker.factory)}
	})

	_, err := await(t, f.orch.TransitionTo(4, RoleLeader))
	require.NoError(t, err)
	require.Equal(t, 1, f.tracker.Active())

	outcome, err := await(t, f.orch.Shutdown())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)
	assert.Equal(t, 0, f.tracker.Active())
	assert.Equal(t, Committed{Term: 4, Role: RoleInactive, Generation: 2}, f.orch.Committed())

	_, err = await(t, f.orch.TransitionTo(5, RoleLeader))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = await(t, f.orch.Shutdown())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOrchestrator_ClosedActorFailsRequest(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b))
	f.actor.Close()

	_, err := f.orch.TransitionTo(1, RoleLeader).Get(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOrchestrator_AbortFailsRunningTransition(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b))
	release := a.hold(PhasePrepare, 1)
	before := f.orch.Committed()

	running := f.orch.TransitionTo(1, RoleLeader)
	f.sync(t)
	f.orch.Abort(context.DeadlineExceeded)

	_, err := await(t, running)
	require.ErrorIs(t, err, ErrClosed)
	assert.ErrorContains(t, err, context.DeadlineExceeded.Error())

	_, err = await(t, f.orch.TransitionTo(2, RoleLeader))
	assert.ErrorIs(t, err, ErrClosed)

	// The held step finishing late changes nothing.
	release()
	f.sync(t)
	assert.Equal(t, before, f.orch.Committed())
	assert.Equal(t, []string{"a.prepare(1,leader)"}, f.rec.Calls())
}

func TestOrchestrator_AbortFailsTransitionWaitingForInFlightStep(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b))
	release := a.hold(PhasePrepare, 1)

	first := f.orch.TransitionTo(1, RoleFollower)
	second := f.orch.TransitionTo(2, RoleLeader)
	f.sync(t)
	f.orch.Abort(errStorage)
	// Close the actor as a timed-out stop would; the queued abort still runs.
	f.actor.Close()

	outcome, err := await(t, first)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuperseded, outcome)

	_, err = await(t, second)
	assert.ErrorIs(t, err, ErrClosed)

	release()
	assert.Equal(t, []string{"a.prepare(1,follower)"}, f.rec.Calls())
}

func TestOrchestrator_AbortWhenIdleOnlyRejectsLaterRequests(t *testing.T) {
	var a, b *scriptedStep
	f := newFixture(t, twoSteps(&a, &b))

	_, err := await(t, f.orch.TransitionTo(1, RoleLeader))
	require.NoError(t, err)
	f.orch.Abort(errStorage)

	_, err = await(t, f.orch.TransitionTo(2, RoleFollower))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, Committed{Term: 1, Role: RoleLeader, Generation: 1}, f.orch.Committed())
}

type recordingListener struct {
	BaseListener
	started  []Request
	steps    []string
	finished []Outcome
}

func (l *recordingListener) OnTransitionStarted(r Request) {
	l.started = append(l.started, r)
}

func (l *recordingListener) OnStepCompleted(_ Request, step string, phase Phase, _ time.Duration, _ error) {
	l.steps = append(l.steps, step+"."+phase.String())
}

func (l *recordingListener) OnTransitionFinished(_ Request, o Outcome, _ time.Duration, _ error) {
	l.finished = append(l.finished, o)
}

func TestOrchestrator_NotifiesListener(t *testing.T) {
	var a, b *scriptedStep
	l := &recordingListener{}
	f := newFixture(t, twoSteps(&a, &b), WithListener(l))
	b.failOn(PhaseActivate, 2, errors.New("boom"))

	_, err := await(t, f.orch.TransitionTo(1, RoleLeader))
	require.NoError(t, err)
	_, err = await(t, f.orch.TransitionTo(2, RoleLeader))
	require.Error(t, err)
	f.sync(t)

	require.Len(t, l.started, 2)
	assert.Equal(t, uint64(2), l.started[1].Generation)
	assert.Equal(t, []Outcome{OutcomeCommitted, OutcomeFailed}, l.finished)
	assert.Equal(t, []string{
		"a.prepare", "b.prepare", "a.activate", "b.activate",
		"a.prepare", "b.prepare", "a.activate", "b.activate",
	}, l.steps)
}
