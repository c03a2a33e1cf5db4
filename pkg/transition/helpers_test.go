package transition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bft-labs/roleshift/pkg/concurrency"
	"github.com/bft-labs/roleshift/pkg/health"
)

const waitTimeout = 5 * time.Second

// call is one recorded step invocation.
type call struct {
	step  string
	phase Phase
	term  int64
	role  Role
}

func (c call) String() string {
	return fmt.Sprintf("%s.%s(%d,%s)", c.step, c.phase, c.term, c.role)
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) add(c call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.String()
	}
	return out
}

type opKey struct {
	phase Phase
	term  int64
}

// scriptedStep completes immediately unless told to hold, fail or panic for a
// given (phase, term). It counts overlapping invocations.
type scriptedStep struct {
	name string
	rec  *recorder

	mu     sync.Mutex
	holds  map[opKey]chan struct{}
	fails  map[opKey]error
	panics map[opKey]bool

	inFlight int32
	overlaps int32
}

func newScriptedStep(name string, rec *recorder) *scriptedStep {
	return &scriptedStep{
		name:   name,
		rec:    rec,
		holds:  make(map[opKey]chan struct{}),
		fails:  make(map[opKey]error),
		panics: make(map[opKey]bool),
	}
}

// hold makes the (phase, term) operation wait until the returned func is called.
func (s *scriptedStep) hold(phase Phase, term int64) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[opKey{phase, term}] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (s *scriptedStep) failOn(phase Phase, term int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[opKey{phase, term}] = err
}

func (s *scriptedStep) panicOn(phase Phase, term int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panics[opKey{phase, term}] = true
}

func (s *scriptedStep) Overlaps() int32 {
	return atomic.LoadInt32(&s.overlaps)
}

func (s *scriptedStep) Name() string { return s.name }

func (s *scriptedStep) Prepare(ctx *Context, term int64, target Role) *concurrency.Future[struct{}] {
	return s.run(PhasePrepare, term, target)
}

func (s *scriptedStep) Activate(ctx *Context, term int64, target Role) *concurrency.Future[struct{}] {
	return s.run(PhaseActivate, term, target)
}

func (s *scriptedStep) run(phase Phase, term int64, role Role) *concurrency.Future[struct{}] {
	s.rec.add(call{step: s.name, phase: phase, term: term, role: role})

	key := opKey{phase, term}
	s.mu.Lock()
	hold, err, doPanic := s.holds[key], s.fails[key], s.panics[key]
	s.mu.Unlock()

	if doPanic {
		panic("scripted panic")
	}
	if atomic.AddInt32(&s.inFlight, 1) > 1 {
		atomic.AddInt32(&s.overlaps, 1)
	}

	f := concurrency.NewFuture[struct{}]()
	finish := func() {
		atomic.AddInt32(&s.inFlight, -1)
		if err != nil {
			f.Fail(err)
			return
		}
		f.Complete(struct{}{})
	}
	if hold != nil {
		go func() {
			<-hold
			finish()
		}()
	} else {
		finish()
	}
	return f
}

// engineTracker watches every fake engine of a test and records how many
// were active at once.
type engineTracker struct {
	mu        sync.Mutex
	created   []*fakeEngine
	active    int
	maxActive int
	openTerms []int64

	openErr error
	// delay, when set, makes Open and Close complete from a goroutine after
	// the returned duration.
	delay func() time.Duration
}

func (t *engineTracker) factory(p EngineParams) (EngineInstance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := &fakeEngine{
		id:      fmt.Sprintf("engine-%d", len(t.created)+1),
		term:    p.Term,
		tracker: t,
		state:   EngineCreated,
		openErr: t.openErr,
	}
	t.created = append(t.created, e)
	return e, nil
}

func (t *engineTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *engineTracker) MaxActive() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxActive
}

func (t *engineTracker) OpenTerms() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.openTerms...)
}

func (t *engineTracker) Created() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.created)
}

type fakeEngine struct {
	id      string
	term    int64
	tracker *engineTracker
	state   EngineState
	openErr error
	closes  int
	live    bool
}

func (e *fakeEngine) ID() string  { return e.id }
func (e *fakeEngine) Term() int64 { return e.term }
func (e *fakeEngine) State() EngineState {
	e.tracker.mu.Lock()
	defer e.tracker.mu.Unlock()
	return e.state
}

func (e *fakeEngine) Open() *concurrency.Future[struct{}] {
	t := e.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	e.state = EngineOpening
	e.live = true
	t.active++
	if t.active > t.maxActive {
		t.maxActive = t.active
	}
	if t.delay == nil {
		return e.finishOpenLocked()
	}
	f := concurrency.NewFuture[struct{}]()
	go func() {
		time.Sleep(t.delay())
		t.mu.Lock()
		res := e.finishOpenLocked()
		t.mu.Unlock()
		res.OnComplete(func(_ struct{}, err error) {
			if err != nil {
				f.Fail(err)
				return
			}
			f.Complete(struct{}{})
		})
	}()
	return f
}

func (e *fakeEngine) finishOpenLocked() *concurrency.Future[struct{}] {
	t := e.tracker
	if e.state != EngineOpening {
		return concurrency.Failed[struct{}](fmt.Errorf("%s closed while opening", e.id))
	}
	if e.openErr != nil {
		e.state = EngineFailed
		e.release()
		return concurrency.Failed[struct{}](e.openErr)
	}
	e.state = EngineOpen
	t.openTerms = append(t.openTerms, e.term)
	return concurrency.Completed(struct{}{})
}

// release drops the engine from the active count. An engine stays counted
// until its close has finished.
func (e *fakeEngine) release() {
	if e.live {
		e.live = false
		e.tracker.active--
	}
}

func (e *fakeEngine) Close() *concurrency.Future[struct{}] {
	t := e.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	e.closes++
	if t.delay == nil || !e.live {
		e.release()
		e.state = EngineClosed
		return concurrency.Completed(struct{}{})
	}
	e.state = EngineClosing
	f := concurrency.NewFuture[struct{}]()
	go func() {
		time.Sleep(t.delay())
		t.mu.Lock()
		e.release()
		e.state = EngineClosed
		t.mu.Unlock()
		f.Complete(struct{}{})
	}()
	return f
}

type fixture struct {
	actor   *concurrency.Actor
	health  *health.Monitor
	ctx     *Context
	orch    *Orchestrator
	rec     *recorder
	tracker *engineTracker
}

func newFixture(t *testing.T, build func(f *fixture) []Step, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		actor:   concurrency.NewActor("test"),
		health:  health.NewMonitor(),
		rec:     &recorder{},
		tracker: &engineTracker{},
	}
	t.Cleanup(f.actor.Close)

	f.ctx = NewContext(1, f.actor, nil, f.health)
	chain, err := NewChain(build(f)...)
	if err != nil {
		t.Fatalf("NewChain() error = %v", err)
	}
	f.orch = NewOrchestrator(f.ctx, chain, opts...)
	return f
}

// sync waits until every job queued on the actor so far has run.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := f.actor.Call(ctx, func() {}); err != nil {
		t.Fatalf("actor barrier: %v", err)
	}
}

func await(t *testing.T, f *concurrency.Future[Outcome]) (Outcome, error) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(waitTimeout):
		t.Fatal("transition did not resolve in time")
	}
	return f.Get(context.Background())
}

var errStorage = errors.New("storage unavailable")
