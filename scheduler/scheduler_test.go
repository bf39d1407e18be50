package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlock struct {
	id    uint64
	start int64
	size  int64
	alive atomic.Bool
	avail atomic.Bool
	fails atomic.Int32
	runs  atomic.Int32
	gate  chan struct{}
	onRun func(id uint64)
}

func newFakeBlock(id uint64, start int64) *fakeBlock {
	b := &fakeBlock{id: id, start: start, size: 1024}
	b.alive.Store(true)
	return b
}

func (b *fakeBlock) ID() uint64               { return b.id }
func (b *fakeBlock) GlobalStart() int64       { return b.start }
func (b *fakeBlock) Len() int64               { return b.size }
func (b *fakeBlock) Alive() bool              { return b.alive.Load() }
func (b *fakeBlock) IsSummaryAvailable() bool { return b.avail.Load() }

func (b *fakeBlock) ComputeSummary(ctx context.Context) error {
	b.runs.Add(1)
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.onRun != nil {
		b.onRun(b.id)
	}
	if b.fails.Load() > 0 {
		b.fails.Add(-1)
		return errors.New("decode failed")
	}
	b.avail.Store(true)
	return nil
}

func TestComputesInTimelineOrder(t *testing.T) {
	s := New(Config{MaxWorkers: 1})
	defer s.Close(context.Background())

	var mu sync.Mutex
	var order []uint64
	record := func(id uint64) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	}

	// Hold the single worker so the later submissions pile up in the queue.
	gate := newFakeBlock(99, -1)
	gate.gate = make(chan struct{})
	gate.onRun = record
	s.Enqueue(gate)

	b3 := newFakeBlock(3, 3000)
	b1 := newFakeBlock(1, 1000)
	b2 := newFakeBlock(2, 2000)
	for _, b := range []*fakeBlock{b3, b1, b2} {
		b.onRun = record
		s.Enqueue(b)
	}

	close(gate.gate)

	require.Eventually(t, func() bool {
		return b1.avail.Load() && b2.avail.Load() && b3.avail.Load()
	}, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{99, 1, 2, 3}, order)
}

func TestDuplicateSubmissionsAbsorbed(t *testing.T) {
	s := New(Config{MaxWorkers: 1})
	defer s.Close(context.Background())

	gate := newFakeBlock(99, -1)
	gate.gate = make(chan struct{})
	s.Enqueue(gate)

	b := newFakeBlock(1, 0)
	s.Enqueue(b)
	s.Enqueue(b)
	s.Enqueue(b)

	close(gate.gate)

	require.Eventually(t, func() bool { return b.avail.Load() }, 5*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), b.runs.Load())
}

func TestAvailableBlockNotQueued(t *testing.T) {
	s := New(Config{MaxWorkers: 1})
	defer s.Close(context.Background())

	b := newFakeBlock(1, 0)
	b.avail.Store(true)
	s.Enqueue(b)

	assert.Equal(t, 0, s.Pending())
}

func TestRetryAfterFailure(t *testing.T) {
	s := New(Config{MaxWorkers: 1, RetryDelay: 10 * time.Millisecond})
	defer s.Close(context.Background())

	b := newFakeBlock(1, 0)
	b.fails.Store(1)
	s.Enqueue(b)

	require.Eventually(t, func() bool { return b.avail.Load() }, 5*time.Second, time.Millisecond)
	assert.Equal(t, int32(2), b.runs.Load())
}

func TestCondemnedBlockNotRetried(t *testing.T) {
	s := New(Config{MaxWorkers: 1, RetryDelay: 5 * time.Millisecond})
	defer s.Close(context.Background())

	b := newFakeBlock(1, 0)
	b.fails.Store(1)
	b.onRun = func(uint64) { b.alive.Store(false) }
	s.Enqueue(b)

	require.Eventually(t, func() bool { return b.runs.Load() == 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), b.runs.Load())
	assert.False(t, b.avail.Load())
}

func TestCloseCancelsRunningWork(t *testing.T) {
	s := New(Config{MaxWorkers: 1})

	b := newFakeBlock(1, 0)
	b.gate = make(chan struct{}) // never released, relies on ctx

	s.Enqueue(b)
	require.Eventually(t, func() bool { return b.runs.Load() == 1 }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	assert.False(t, b.avail.Load())

	// Submissions after close are ignored.
	s.Enqueue(newFakeBlock(2, 0))
	assert.Equal(t, 0, s.Pending())
}
