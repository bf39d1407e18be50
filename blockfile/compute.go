package blockfile

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/wavecache/wavecache/persistence"
	"github.com/wavecache/wavecache/summary"
)

// ComputeSummary is the background worker's entry point: decode the full
// alias range once, persist the summary cache file, then commit. Idempotent —
// a block that is already available or already claimed is a no-op, so a
// duplicate dispatch can never run two computations against one block.
//
// The persisted file is complete before the available flag becomes visible
// to readers; a crash between the two leaves the block unavailable and the
// obligation to recompute intact.
func (b *BlockFile) ComputeSummary(ctx context.Context) error {
	b.stateMu.Lock()
	if b.state != SummaryUnavailable {
		b.stateMu.Unlock()
		return nil
	}
	b.state = SummaryBeingComputed
	b.stateMu.Unlock()

	buf, err := b.computeBuffer(ctx)
	if err != nil {
		return b.abandon(ctx, fmt.Errorf("compute summary: %w", err))
	}

	name := b.CacheFile()
	path := b.deps.Registry.Path(name)
	if err := persistence.WriteFile(b.deps.FS, path, buf, b.deps.Codec); err != nil {
		return b.abandon(ctx, fmt.Errorf("%w: %s: %w", ErrPersistence, name, err))
	}

	// Commit. refMu before stateMu, matching Deref, so a concurrent final
	// Deref either sees the computation still in flight (and condemns the
	// block for us to clean up) or sees the committed summary.
	b.refMu.Lock()
	if b.condemned || b.refCount == 0 {
		b.stateMu.Lock()
		b.state = SummaryUnavailable
		b.stateMu.Unlock()
		b.refMu.Unlock()
		if err := b.deps.FS.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.deps.Logger.Warn("removing aborted summary file failed", "block", b.id, "error", err)
		}
		if err := b.finalRelease(ctx); err != nil {
			b.deps.Logger.Warn("cache file release failed", "block", b.id, "error", err)
		}
		return ErrReleased
	}
	b.stateMu.Lock()
	b.buf = buf
	b.state = SummaryAvailable
	b.stateMu.Unlock()
	b.refMu.Unlock()

	b.deps.Logger.Debug("summary committed",
		"block", b.id,
		"cache_file", name,
		"samples", b.rng.Len,
	)
	return nil
}

// computeBuffer decodes the whole alias range and derives both summary
// resolutions. The decode guard is held only for the decoder call.
func (b *BlockFile) computeBuffer(ctx context.Context) (*summary.Buffer, error) {
	samples := make([]float32, b.rng.Len)
	ref := b.AliasedFile()

	b.readMu.Lock()
	err := b.deps.Decoder.ReadSamples(ctx, ref, b.rng.Channel, b.rng.Start, b.rng.Len, samples)
	b.readMu.Unlock()
	if err != nil {
		return nil, err
	}

	return summary.Compute(samples), nil
}

// abandon reverts a failed computation to unavailable. The retry obligation
// stays with the scheduler — a failure is never silently treated as success.
// A block condemned mid-computation is released here instead.
func (b *BlockFile) abandon(ctx context.Context, cause error) error {
	b.refMu.Lock()
	dead := b.condemned || b.refCount == 0
	b.stateMu.Lock()
	b.state = SummaryUnavailable
	b.buf = nil
	b.stateMu.Unlock()
	b.refMu.Unlock()

	if dead {
		if err := b.finalRelease(ctx); err != nil {
			b.deps.Logger.Warn("cache file release failed", "block", b.id, "error", err)
		}
		return ErrReleased
	}

	b.deps.Logger.Warn("summary computation failed, will retry",
		"block", b.id,
		"error", cause,
	)
	return cause
}

// Recover rewrites the summary cache file from the in-memory buffer when the
// on-disk copy is missing or unreadable. Blocks without a computed summary
// have nothing to recover; their scheduling obligation already covers them.
func (b *BlockFile) Recover(ctx context.Context) error {
	b.stateMu.RLock()
	state := b.state
	buf := b.buf
	b.stateMu.RUnlock()

	if state != SummaryAvailable {
		return nil
	}

	path := b.deps.Registry.Path(b.CacheFile())
	if _, err := persistence.ReadFile(b.deps.FS, path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, persistence.ErrCorrupt) {
		return err
	}

	b.deps.Logger.Warn("rewriting lost summary file", "block", b.id, "cache_file", b.CacheFile())
	if err := persistence.WriteFile(b.deps.FS, path, buf, b.deps.Codec); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}
