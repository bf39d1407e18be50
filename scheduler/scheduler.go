// Package scheduler runs background summary computations with bounded
// concurrency. Blocks are served in timeline order, duplicate submissions
// are absorbed, and failed computations retry after a delay for as long as
// the block stays alive.
package scheduler

import (
	"container/heap"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Block is the scheduler's view of a block file awaiting its summary.
type Block interface {
	ID() uint64
	GlobalStart() int64
	Len() int64
	Alive() bool
	IsSummaryAvailable() bool
	ComputeSummary(ctx context.Context) error
}

// Config holds scheduler limits.
type Config struct {
	// MaxWorkers is the maximum number of concurrent computations.
	// If 0, defaults to 1.
	MaxWorkers int64

	// IOLimitBytesPerSec throttles decode throughput across workers.
	// If 0, unlimited.
	IOLimitBytesPerSec int64

	// RetryDelay is the pause before a failed computation is requeued.
	// If 0, defaults to one second.
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Scheduler dispatches summary computations from a priority queue.
type Scheduler struct {
	cfg       Config
	logger    *slog.Logger
	workers   *semaphore.Weighted
	ioLimiter *rate.Limiter

	mu      sync.Mutex
	cond    *sync.Cond
	queue   blockHeap
	pending *roaring64.Bitmap // IDs queued or running
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// New starts a scheduler and its dispatch loop.
func New(cfg Config) *Scheduler {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cfg:     cfg,
		logger:  cfg.Logger,
		workers: semaphore.NewWeighted(cfg.MaxWorkers),
		pending: roaring64.New(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	if cfg.IOLimitBytesPerSec > 0 {
		s.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	go s.dispatch(ctx)

	return s
}

// Enqueue submits a block for background computation. Blocks already
// queued, already running, or already summarized are absorbed.
func (s *Scheduler) Enqueue(b Block) {
	if b.IsSummaryAvailable() || !b.Alive() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.pending.Contains(b.ID()) {
		return
	}
	s.pending.Add(b.ID())
	heap.Push(&s.queue, &heapItem{Block: b, Start: b.GlobalStart()})
	s.cond.Signal()
}

// Pending returns the number of blocks queued or running.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.pending.GetCardinality())
}

func (s *Scheduler) dispatch(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		for s.queue.Len() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && s.queue.Len() == 0 {
			s.mu.Unlock()
			return
		}
		item, _ := heap.Pop(&s.queue).(*heapItem)
		s.mu.Unlock()

		if err := s.workers.Acquire(ctx, 1); err != nil {
			s.finish(item.Block.ID())
			return
		}

		s.wg.Add(1)
		go func(b Block) {
			defer s.wg.Done()
			defer s.workers.Release(1)
			s.run(ctx, b)
		}(item.Block)
	}
}

func (s *Scheduler) run(ctx context.Context, b Block) {
	if !b.Alive() || b.IsSummaryAvailable() {
		s.finish(b.ID())
		return
	}

	if err := s.acquireIO(ctx, b.Len()*4); err != nil {
		s.finish(b.ID())
		return
	}

	err := b.ComputeSummary(ctx)
	s.finish(b.ID())

	if err == nil || ctx.Err() != nil {
		return
	}
	if !b.Alive() {
		s.logger.Debug("dropping condemned block", "block_id", b.ID())
		return
	}

	s.logger.Warn("summary computation failed, requeueing", "block_id", b.ID(), "error", err)
	s.requeueAfter(b, s.cfg.RetryDelay)
}

// acquireIO charges a computation's approximate decode volume against the
// shared throughput budget before it starts.
func (s *Scheduler) acquireIO(ctx context.Context, bytes int64) error {
	if s.ioLimiter == nil {
		return nil
	}
	if burst := int64(s.ioLimiter.Burst()); bytes > burst {
		bytes = burst
	}
	if bytes <= 0 {
		return nil
	}
	return s.ioLimiter.WaitN(ctx, int(bytes))
}

func (s *Scheduler) finish(id uint64) {
	s.mu.Lock()
	s.pending.Remove(id)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Scheduler) requeueAfter(b Block, d time.Duration) {
	time.AfterFunc(d, func() {
		s.Enqueue(b)
	})
}

// Close stops accepting work, cancels running computations, and waits for
// workers to exit or ctx to expire.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-s.done
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
