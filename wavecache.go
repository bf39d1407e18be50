// Package wavecache maintains summarized block files over aliased audio:
// blocks become usable immediately after import, raw audio is read from the
// original media on demand, and min/max/RMS summaries are computed by
// background workers and cached on disk.
package wavecache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wavecache/wavecache/blobstore"
	"github.com/wavecache/wavecache/blockfile"
	"github.com/wavecache/wavecache/decoder"
	"github.com/wavecache/wavecache/model"
	"github.com/wavecache/wavecache/persistence"
	"github.com/wavecache/wavecache/record"
	"github.com/wavecache/wavecache/registry"
	"github.com/wavecache/wavecache/scheduler"
	"github.com/wavecache/wavecache/summary"
)

// Cache owns a directory of summary cache files, the block files that
// reference them, and the background workers that fill them in.
type Cache struct {
	opts    options
	logger  *Logger
	metrics MetricsCollector
	dec     *decoder.PCMDecoder
	reg     *registry.Registry
	sched   *scheduler.Scheduler

	mu     sync.Mutex
	blocks map[uint64]*blockfile.BlockFile
	closed bool
}

// New opens a cache rooted at dir, creating the directory if needed.
func New(dir string, optFns ...Option) (*Cache, error) {
	opts := applyOptions(optFns)

	reg, err := registry.New(opts.fsys, dir, opts.logger.Logger)
	if err != nil {
		return nil, err
	}

	aliasStore := opts.aliasStore
	if aliasStore == nil {
		aliasStore = blobstore.NewLocalStore("")
	}

	c := &Cache{
		opts:    opts,
		logger:  opts.logger,
		metrics: opts.metricsCollector,
		dec:     decoder.NewPCMDecoder(aliasStore),
		reg:     reg,
		blocks:  make(map[uint64]*blockfile.BlockFile),
	}
	c.sched = scheduler.New(scheduler.Config{
		MaxWorkers:         opts.maxWorkers,
		IOLimitBytesPerSec: opts.ioLimitBytes,
		RetryDelay:         opts.retryDelay,
		Logger:             opts.logger.Logger,
	})

	return c, nil
}

func (c *Cache) deps() blockfile.Deps {
	return blockfile.Deps{
		FS:       c.opts.fsys,
		Registry: c.reg,
		Decoder:  c.dec,
		Codec:    c.opts.codec,
		Logger:   c.logger.Logger,
	}
}

// NewBlockFile constructs an on-demand block over one channel span of an
// aliased file. The block is usable immediately; its summary computation is
// queued in the background. The caller owns one reference and releases it
// through Release.
func (c *Cache) NewBlockFile(ctx context.Context, ref model.AliasRef, rng model.AliasRange) (*blockfile.BlockFile, error) {
	rec := record.Block{
		AliasedFile: record.AliasedFile{
			Path:     ref.Path,
			Format:   ref.Format,
			Channels: ref.Channels,
		},
		AliasStart:   rng.Start,
		AliasLen:     rng.Len,
		AliasChannel: rng.Channel,
		CacheFile:    "pending",
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	id := c.reg.NextBlockID()
	bf := blockfile.New(id, ref, rng, c.reg.AssignCacheFile(), c.deps())
	c.blocks[id] = bf
	c.mu.Unlock()

	c.logger.LogNewBlock(ctx, id, ref.Path, rng.Len)
	c.sched.Enqueue(c.metered(bf))

	return bf, nil
}

// CopyBlock duplicates a block. A copy of an available block shares the
// immutable summary and its cache file; a copy of a pending block gets its
// own cache file and its own place in the computation queue.
func (c *Cache) CopyBlock(ctx context.Context, b *blockfile.BlockFile) (*blockfile.BlockFile, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	id := c.reg.NextBlockID()
	fresh := c.reg.AssignCacheFile()
	nb := b.Copy(id, fresh)
	c.blocks[id] = nb
	c.mu.Unlock()

	if shared := nb.CacheFile(); shared != fresh {
		// The copy shares the original's cache file. Move the reference
		// off the freshly assigned name, which never touched disk.
		c.reg.RegisterBlock(shared)
		if _, err := c.reg.ReleaseBlock(ctx, fresh); err != nil {
			return nil, err
		}
		return nb, nil
	}

	c.sched.Enqueue(c.metered(nb))
	return nb, nil
}

// Release drops the caller's reference to a block. The last release removes
// the block from the cache and releases its summary cache file, unless the
// block had been captured by a project save.
func (c *Cache) Release(ctx context.Context, b *blockfile.BlockFile) error {
	last, err := b.Deref(ctx)
	c.logger.LogRelease(ctx, b.ID(), err)
	if err != nil {
		return err
	}
	if last {
		c.metrics.RecordRelease(!b.HasBeenSaved())
		c.mu.Lock()
		delete(c.blocks, b.ID())
		c.mu.Unlock()
	}
	return nil
}

// GetMinMax returns the min/max/RMS statistic of n samples starting at the
// block-local index start, recording query metrics.
func (c *Cache) GetMinMax(ctx context.Context, b *blockfile.BlockFile, start, n int64) (summary.Frame, error) {
	began := time.Now()
	cached := b.IsSummaryAvailable()
	frame, err := b.GetMinMax(ctx, start, n)
	c.metrics.RecordMinMax(cached, time.Since(began), err)
	return frame, err
}

// SaveProject atomically writes every live block's record to path. Blocks
// whose summary is still pending are recorded as such; reloading the file
// puts them back in the computation queue. After a successful write each
// captured block is pinned so closing the cache keeps its summary file for
// the saved project to find.
func (c *Cache) SaveProject(ctx context.Context, path string) error {
	began := time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	snapshot := make([]*blockfile.BlockFile, 0, len(c.blocks))
	for _, b := range c.blocks {
		snapshot = append(snapshot, b)
	}
	c.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID() < snapshot[j].ID() })

	records := make([]record.Block, len(snapshot))
	pending := 0
	for i, b := range snapshot {
		records[i] = b.Record()
		if !records[i].SummaryAvailable {
			pending++
		}
	}

	err := record.SaveProject(c.opts.fsys, path, records)
	if err == nil {
		for _, b := range snapshot {
			b.MarkSaved()
		}
	}

	c.logger.LogSave(ctx, path, len(records), pending, err)
	c.metrics.RecordSave(len(records), pending, time.Since(began), err)
	return err
}

// LoadProject reconstructs the blocks of a saved project file. Records with
// an available summary read their cache file back; a missing or corrupt
// cache file is not fatal — the block is rebuilt without its summary and
// rescheduled, exactly as if it had never been computed. The caller owns one
// reference to each returned block.
func (c *Cache) LoadProject(ctx context.Context, path string) ([]*blockfile.BlockFile, error) {
	began := time.Now()

	blocks, rescheduled, err := c.loadProject(ctx, path)
	c.logger.LogLoad(ctx, path, len(blocks), rescheduled, err)
	c.metrics.RecordLoad(len(blocks), rescheduled, time.Since(began), err)
	return blocks, err
}

func (c *Cache) loadProject(ctx context.Context, path string) ([]*blockfile.BlockFile, int, error) {
	recs, err := record.LoadProject(c.opts.fsys, path)
	if err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, 0, ErrClosed
	}

	blocks := make([]*blockfile.BlockFile, 0, len(recs))
	rescheduled := 0
	for _, rec := range recs {
		bf, err := c.fromRecordLocked(rec)
		if err != nil {
			c.rollbackLoaded(ctx, blocks)
			return nil, rescheduled, err
		}
		if !bf.IsSummaryAvailable() {
			rescheduled++
		}
		blocks = append(blocks, bf)
	}
	return blocks, rescheduled, nil
}

// rollbackLoaded backs out blocks constructed before a mid-load failure, so
// a failed load leaves the cache empty. The saved project on disk still
// references their cache files, which stay put.
func (c *Cache) rollbackLoaded(ctx context.Context, blocks []*blockfile.BlockFile) {
	for _, bf := range blocks {
		bf.CloseLock()
		if _, err := bf.Deref(ctx); err != nil {
			c.logger.Warn("load rollback release failed", "block_id", bf.ID(), "error", err)
		}
		c.reg.Unregister(bf.CacheFile())
		delete(c.blocks, bf.ID())
	}
}

// FromRecord reconstructs a single block from its saved record. Records with
// an available summary read their cache file back; records without one, or
// whose cache file is lost, re-enter the computation queue. The caller owns
// one reference to the returned block.
func (c *Cache) FromRecord(ctx context.Context, rec record.Block) (*blockfile.BlockFile, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.fromRecordLocked(rec)
}

func (c *Cache) fromRecordLocked(rec record.Block) (*blockfile.BlockFile, error) {
	c.reg.RegisterBlock(rec.CacheFile)
	id := c.reg.NextBlockID()
	deps := c.deps()

	var bf *blockfile.BlockFile
	if rec.SummaryAvailable {
		buf, err := persistence.ReadFile(c.opts.fsys, c.reg.Path(rec.CacheFile))
		switch {
		case err == nil:
			bf = blockfile.NewAvailable(id, rec.Ref(), rec.Range(), rec.CacheFile, buf, deps)
		case needsReconstruction(err):
			c.logger.Warn("recomputing summary", "block_id", id, "error", reconstructionError(rec.CacheFile, err))
			bf = blockfile.New(id, rec.Ref(), rec.Range(), rec.CacheFile, deps)
		default:
			c.reg.Unregister(rec.CacheFile)
			return nil, err
		}
	} else {
		bf = blockfile.New(id, rec.Ref(), rec.Range(), rec.CacheFile, deps)
	}

	bf.SetStart(rec.Start)
	bf.SetClipOffset(rec.ClipOffset)
	bf.MarkSaved()
	c.blocks[id] = bf

	if !bf.IsSummaryAvailable() {
		c.sched.Enqueue(c.metered(bf))
	}
	return bf, nil
}

// MigrateCacheFile renames a block's summary cache file within the cache
// directory, redirecting every block that shares it. Used when a save-as
// consolidates cache files under a new project.
func (c *Cache) MigrateCacheFile(b *blockfile.BlockFile, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	old := b.CacheFile()
	if err := c.reg.Rename(old, newName); err != nil {
		return err
	}
	for _, other := range c.blocks {
		if other.CacheFile() == old {
			other.SetCacheFile(newName)
		}
	}
	return nil
}

// Blocks returns the live blocks in ID order.
func (c *Cache) Blocks() []*blockfile.BlockFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*blockfile.BlockFile, 0, len(c.blocks))
	for _, b := range c.blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// PendingComputations returns the number of blocks queued or running in the
// background.
func (c *Cache) PendingComputations() int { return c.sched.Pending() }

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.reg.Dir() }

// Close drains the background workers and closes decoder handles. Blocks
// captured by a project save keep their summary cache files on disk; blocks
// never saved release theirs when their last reference goes.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	snapshot := make([]*blockfile.BlockFile, 0, len(c.blocks))
	for _, b := range c.blocks {
		snapshot = append(snapshot, b)
	}
	c.mu.Unlock()

	err := c.sched.Close(ctx)

	for _, b := range snapshot {
		b.CloseLock()
	}

	if cerr := c.dec.Close(); err == nil {
		err = cerr
	}
	return err
}

// metered wraps a block for the scheduler so computation timing flows into
// the metrics collector.
func (c *Cache) metered(b *blockfile.BlockFile) scheduler.Block {
	return &meteredBlock{BlockFile: b, metrics: c.metrics}
}

type meteredBlock struct {
	*blockfile.BlockFile
	metrics MetricsCollector
}

func (m *meteredBlock) ComputeSummary(ctx context.Context) error {
	began := time.Now()
	err := m.BlockFile.ComputeSummary(ctx)
	if !errors.Is(err, blockfile.ErrReleased) {
		m.metrics.RecordCompute(m.Len(), time.Since(began), err)
	}
	return err
}
