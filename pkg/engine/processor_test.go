package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/roleshift/pkg/concurrency"
	"github.com/bft-labs/roleshift/pkg/logstore"
	"github.com/bft-labs/roleshift/pkg/transition"
)

const waitTimeout = 5 * time.Second

func openStore(t *testing.T) *logstore.Store {
	t.Helper()
	s, err := logstore.Open(logstore.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendN(t *testing.T, s *logstore.Store, term int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Append(term, []byte(fmt.Sprintf("record-%d", i)))
		require.NoError(t, err)
	}
}

// collector records handled positions.
type collector struct {
	mu        sync.Mutex
	positions []uint64
}

func (c *collector) Handle(_ context.Context, rec logstore.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions = append(c.positions, rec.Position)
	return nil
}

func (c *collector) Positions() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.positions...)
}

func wait(t *testing.T, f *concurrency.Future[struct{}]) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, err := f.Get(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "future did not complete in time")
	return err
}

func newProcessor(t *testing.T, s logstore.Log, h RecordHandler) *Processor {
	t.Helper()
	p, err := New(transition.EngineParams{PartitionID: 1, Term: 4, Log: s}, h,
		Config{PollInterval: 5 * time.Millisecond, BatchSize: 2}, nil)
	require.NoError(t, err)
	return p
}

func TestNew_Validates(t *testing.T) {
	_, err := New(transition.EngineParams{}, &collector{}, Config{}, nil)
	assert.Error(t, err)

	_, err = New(transition.EngineParams{Log: openStore(t)}, nil, Config{}, nil)
	assert.Error(t, err)
}

func TestProcessor_ReplaysBeforeOpen(t *testing.T) {
	s := openStore(t)
	appendN(t, s, 1, 5)
	c := &collector{}
	p := newProcessor(t, s, c)

	assert.Equal(t, transition.EngineCreated, p.State())
	assert.NotEmpty(t, p.ID())
	assert.Equal(t, int64(4), p.Term())

	require.NoError(t, wait(t, p.Open()))
	assert.Equal(t, transition.EngineOpen, p.State())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, c.Positions())
	assert.EqualValues(t, 5, p.Position())

	require.NoError(t, wait(t, p.Close()))
	assert.Equal(t, transition.EngineClosed, p.State())
	assert.Zero(t, s.OpenReaders())
}

func TestProcessor_PollsNewRecords(t *testing.T) {
	s := openStore(t)
	c := &collector{}
	p := newProcessor(t, s, c)
	require.NoError(t, wait(t, p.Open()))

	appendN(t, s, 4, 3)
	assert.Eventually(t, func() bool {
		return len(c.Positions()) == 3
	}, waitTimeout, 5*time.Millisecond)

	require.NoError(t, wait(t, p.Close()))
	assert.EqualValues(t, 3, p.Processed())
}

func TestProcessor_ResumesFromCheckpoint(t *testing.T) {
	s := openStore(t)
	appendN(t, s, 1, 4)

	first := &collector{}
	p1 := newProcessor(t, s, first)
	require.NoError(t, wait(t, p1.Open()))
	require.NoError(t, wait(t, p1.Close()))

	ckpt, err := s.Checkpoint(DefaultCheckpointName)
	require.NoError(t, err)
	assert.EqualValues(t, 4, ckpt)

	appendN(t, s, 2, 2)
	second := &collector{}
	p2 := newProcessor(t, s, second)
	require.NoError(t, wait(t, p2.Open()))
	require.NoError(t, wait(t, p2.Close()))

	assert.Equal(t, []uint64{5, 6}, second.Positions())
}

func TestProcessor_CloseIsSafeInEveryState(t *testing.T) {
	t.Run("never opened", func(t *testing.T) {
		s := openStore(t)
		p := newProcessor(t, s, &collector{})

		require.NoError(t, wait(t, p.Close()))
		assert.Equal(t, transition.EngineClosed, p.State())
		assert.Zero(t, s.OpenReaders())

		assert.Error(t, wait(t, p.Open()))
	})

	t.Run("twice", func(t *testing.T) {
		p := newProcessor(t, openStore(t), &collector{})
		require.NoError(t, wait(t, p.Open()))

		f1 := p.Close()
		f2 := p.Close()
		assert.Same(t, f1, f2)
		require.NoError(t, wait(t, f2))
	})

	t.Run("while replaying", func(t *testing.T) {
		s := openStore(t)
		appendN(t, s, 1, 3)
		started := make(chan struct{})
		var once sync.Once
		blocking := HandlerFunc(func(ctx context.Context, _ logstore.Record) error {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return ctx.Err()
		})
		p := newProcessor(t, s, blocking)

		opened := p.Open()
		<-started
		assert.Equal(t, transition.EngineOpening, p.State())

		require.NoError(t, wait(t, p.Close()))
		assert.ErrorIs(t, wait(t, opened), context.Canceled)
		assert.Equal(t, transition.EngineClosed, p.State())
		assert.Zero(t, s.OpenReaders())
	})

	t.Run("after failed open", func(t *testing.T) {
		s := openStore(t)
		require.NoError(t, s.Close())
		p := newProcessor(t, s, &collector{})

		err := wait(t, p.Open())
		assert.ErrorIs(t, err, logstore.ErrClosed)
		assert.Equal(t, transition.EngineFailed, p.State())

		require.NoError(t, wait(t, p.Close()))
		assert.Equal(t, transition.EngineClosed, p.State())
	})
}

func TestProcessor_RetriesFailedRecord(t *testing.T) {
	s := openStore(t)
	c := &collector{}
	var mu sync.Mutex
	failures := 2
	flaky := HandlerFunc(func(ctx context.Context, rec logstore.Record) error {
		mu.Lock()
		if rec.Position == 2 && failures > 0 {
			failures--
			mu.Unlock()
			return errors.New("transient")
		}
		mu.Unlock()
		return c.Handle(ctx, rec)
	})
	p := newProcessor(t, s, flaky)
	require.NoError(t, wait(t, p.Open()))

	appendN(t, s, 4, 3)
	assert.Eventually(t, func() bool {
		return len(c.Positions()) == 3
	}, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3}, c.Positions())

	require.NoError(t, wait(t, p.Close()))
}

func TestProcessor_ReplayErrorFailsOpen(t *testing.T) {
	s := openStore(t)
	appendN(t, s, 1, 1)
	boom := errors.New("bad record")
	p := newProcessor(t, s, HandlerFunc(func(context.Context, logstore.Record) error {
		return boom
	}))

	assert.ErrorIs(t, wait(t, p.Open()), boom)
	assert.Equal(t, transition.EngineFailed, p.State())
	require.NoError(t, wait(t, p.Close()))
	assert.Zero(t, s.OpenReaders())
}

func TestNewFactory(t *testing.T) {
	s := openStore(t)
	factory := NewFactory(&collector{}, Config{}, nil)

	a, err := factory(transition.EngineParams{PartitionID: 2, Term: 7, Log: s})
	require.NoError(t, err)
	b, err := factory(transition.EngineParams{PartitionID: 2, Term: 8, Log: s})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, int64(7), a.Term())
	assert.Equal(t, int64(8), b.Term())
}
