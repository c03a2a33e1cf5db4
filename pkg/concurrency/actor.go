package concurrency

import (
	"context"
	"errors"
	"sync"
)

// ErrActorClosed is returned when work is submitted to a closed actor.
var ErrActorClosed = errors.New("roleshift: actor closed")

// Executor runs jobs on a serializing execution context.
type Executor interface {
	Run(job func()) error
}

// Actor is a serializing executor backed by a single goroutine.
// Jobs run in submission order and never concurrently with each other.
// The queue is unbounded so jobs may submit further jobs without deadlocking.
type Actor struct {
	name string

	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// NewActor starts an actor goroutine.
func NewActor(name string) *Actor {
	a := &Actor{
		name:    name,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go a.loop()
	return a
}

// Name returns the actor name.
func (a *Actor) Name() string {
	return a.name
}

// Run enqueues job. It is safe to call from any goroutine, including from a
// job running on this actor.
func (a *Actor) Run(job func()) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrActorClosed
	}
	a.queue = append(a.queue, job)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

// Call runs job on the actor and waits for it to finish.
// Must not be called from a job running on this actor.
func (a *Actor) Call(ctx context.Context, job func()) error {
	done := make(chan struct{})
	if err := a.Run(func() {
		defer close(done)
		job()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, runs the ones already queued and waits for the
// actor goroutine to exit. Close is idempotent.
func (a *Actor) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
	a.mu.Unlock()
	<-a.stopped
}

func (a *Actor) loop() {
	defer close(a.stopped)
	for {
		a.mu.Lock()
		jobs := a.queue
		a.queue = nil
		closed := a.closed
		a.mu.Unlock()

		for _, job := range jobs {
			job()
		}

		if len(jobs) > 0 {
			continue
		}
		if closed {
			return
		}
		<-a.wake
	}
}
