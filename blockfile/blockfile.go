// Package blockfile implements the on-demand summarized block file: one
// contiguous span of aliased audio paired with summary statistics that a
// background worker computes and persists after construction.
//
// A block file is nominally immutable, but a handful of fields mutate during
// its lifetime: the summary state advances as the worker runs, the cache-file
// name can migrate on save-as, the aliased-file reference can move with a
// project, and the reference count changes as tracks are edited. Each of
// those field groups has its own guard so a rename never blocks a read and a
// read never blocks the worker. No guard is held across a raw decode or a
// disk write.
package blockfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wavecache/wavecache/codec"
	"github.com/wavecache/wavecache/decoder"
	"github.com/wavecache/wavecache/internal/fs"
	"github.com/wavecache/wavecache/model"
	"github.com/wavecache/wavecache/summary"
)

var (
	// ErrReleased is returned when an operation runs against a block whose
	// last reference is gone.
	ErrReleased = errors.New("block file released")
	// ErrOutOfRange is returned when a read falls outside the alias span.
	ErrOutOfRange = errors.New("read outside alias range")
	// ErrPersistence flags a failed summary cache-file write. The summary
	// state reverts to unavailable and the computation must be retried.
	ErrPersistence = errors.New("summary persistence failure")
)

// SummaryState is the lifecycle position of a block's summary.
type SummaryState int32

const (
	// SummaryUnavailable means no summary exists yet; reads decode raw
	// samples on the fly.
	SummaryUnavailable SummaryState = iota
	// SummaryBeingComputed means exactly one background worker has claimed
	// this block.
	SummaryBeingComputed
	// SummaryAvailable is terminal: the summary is computed, persisted, and
	// immutable.
	SummaryAvailable
)

func (s SummaryState) String() string {
	switch s {
	case SummaryUnavailable:
		return "unavailable"
	case SummaryBeingComputed:
		return "being-computed"
	case SummaryAvailable:
		return "available"
	default:
		return fmt.Sprintf("SummaryState(%d)", int32(s))
	}
}

// Registry is the directory collaborator a block file releases its cache
// file through. The registry owns name-to-path mapping and the shared count
// across blocks referencing one cache file.
type Registry interface {
	// Path resolves a cache-file name to a filesystem path.
	Path(name string) string
	// ReleaseBlock drops one reference to the named cache file, removing
	// the file when the last reference is gone.
	ReleaseBlock(ctx context.Context, name string) (removed bool, err error)
}

// Deps are the collaborators a block file operates against.
type Deps struct {
	FS       fs.FileSystem
	Registry Registry
	Decoder  decoder.Decoder
	Codec    codec.Codec
	Logger   *slog.Logger
}

// BlockFile is one segment of aliased audio plus its (possibly pending)
// summary. Safe for concurrent use.
type BlockFile struct {
	id   uint64
	rng  model.AliasRange // immutable after construction
	deps Deps

	// stateMu guards state and buf together: the worker's commit swaps the
	// buffer pointer and advances the state in one critical section, so no
	// reader can observe SummaryAvailable without a complete buffer.
	stateMu sync.RWMutex
	state   SummaryState
	buf     *summary.Buffer

	// fileNameMu guards the cache-file name and the saved marker, so a
	// save-as rename never blocks readers.
	fileNameMu   sync.Mutex
	cacheFile    string
	hasBeenSaved bool

	// aliasMu guards the aliased-file reference (reassigned only when a
	// project moves).
	aliasMu sync.Mutex
	ref     model.AliasRef

	// readMu serializes raw decoding: the decoder cannot handle two
	// concurrent reads against the same file handle.
	readMu sync.Mutex

	// refMu guards the reference count and the condemned marker. Lock
	// ordering: refMu may be taken before stateMu, never after.
	refMu     sync.Mutex
	refCount  int
	condemned bool
	released  atomic.Bool

	// Display coordinates, informational only; may be stale.
	start      atomic.Int64
	clipOffset atomic.Int64
}

// New constructs a fresh on-demand block with no summary. The caller owns
// one reference and is responsible for scheduling the computation.
func New(id uint64, ref model.AliasRef, rng model.AliasRange, cacheFile string, deps Deps) *BlockFile {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Codec == nil {
		deps.Codec = codec.Default
	}
	return &BlockFile{
		id:        id,
		ref:       ref,
		rng:       rng,
		cacheFile: cacheFile,
		deps:      deps,
		refCount:  1,
	}
}

// NewAvailable constructs a block whose summary is already known, e.g. when
// reconstructing a saved project whose cache file read back cleanly.
func NewAvailable(id uint64, ref model.AliasRef, rng model.AliasRange, cacheFile string, buf *summary.Buffer, deps Deps) *BlockFile {
	b := New(id, ref, rng, cacheFile, deps)
	b.state = SummaryAvailable
	b.buf = buf
	b.hasBeenSaved = true
	return b
}

// ID returns the block's identity within its cache.
func (b *BlockFile) ID() uint64 { return b.id }

// Range returns the immutable alias range.
func (b *BlockFile) Range() model.AliasRange { return b.rng }

// Len returns the number of samples the block covers.
func (b *BlockFile) Len() int64 { return b.rng.Len }

// AliasedFile returns the current aliased-file reference.
func (b *BlockFile) AliasedFile() model.AliasRef {
	b.aliasMu.Lock()
	defer b.aliasMu.Unlock()
	return b.ref
}

// SetAliasedFile reassigns the aliased-file reference, e.g. after a project
// move relocated the media. The alias range is unaffected.
func (b *BlockFile) SetAliasedFile(ref model.AliasRef) {
	b.aliasMu.Lock()
	defer b.aliasMu.Unlock()
	b.ref = ref
}

// CacheFile returns the current cache-file name.
func (b *BlockFile) CacheFile() string {
	b.fileNameMu.Lock()
	defer b.fileNameMu.Unlock()
	return b.cacheFile
}

// SetCacheFile redirects the block to a migrated cache file. Content is
// unchanged; only the name moves. Concurrent reads are not blocked.
func (b *BlockFile) SetCacheFile(name string) {
	b.fileNameMu.Lock()
	defer b.fileNameMu.Unlock()
	b.cacheFile = name
}

// State returns the current summary state. Non-blocking.
func (b *BlockFile) State() SummaryState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

// IsSummaryAvailable reports whether the summary is computed and persisted.
// Non-blocking.
func (b *BlockFile) IsSummaryAvailable() bool { return b.State() == SummaryAvailable }

// IsSummaryBeingComputed reports whether a background worker currently holds
// the computation claim. Informational; non-blocking.
func (b *BlockFile) IsSummaryBeingComputed() bool { return b.State() == SummaryBeingComputed }

// HasBeenSaved reports whether a save boundary already captured this block's
// current state.
func (b *BlockFile) HasBeenSaved() bool {
	b.fileNameMu.Lock()
	defer b.fileNameMu.Unlock()
	return b.hasBeenSaved
}

// SetStart records where the block's first sample sits within its clip.
// Display use only.
func (b *BlockFile) SetStart(sample int64) { b.start.Store(sample) }

// Start returns the block's offset within its clip. Display use only.
func (b *BlockFile) Start() int64 { return b.start.Load() }

// SetClipOffset records the clip's offset within its track. Display use only.
func (b *BlockFile) SetClipOffset(samples int64) { b.clipOffset.Store(samples) }

// ClipOffset returns the clip's offset within its track. Display use only.
func (b *BlockFile) ClipOffset() int64 { return b.clipOffset.Load() }

// GlobalStart returns the track-relative sample the block starts at. The
// scheduler prioritizes blocks by this value so visible audio summarizes
// first.
func (b *BlockFile) GlobalStart() int64 { return b.clipOffset.Load() + b.start.Load() }

// GlobalEnd returns the track-relative sample the block ends at.
func (b *BlockFile) GlobalEnd() int64 { return b.GlobalStart() + b.rng.Len }

// Ref adds a reference. The caller must already hold one live reference.
func (b *BlockFile) Ref() {
	b.refMu.Lock()
	defer b.refMu.Unlock()
	b.refCount++
}

// RefCount returns the current reference count.
func (b *BlockFile) RefCount() int {
	b.refMu.Lock()
	defer b.refMu.Unlock()
	return b.refCount
}

// Alive reports whether the block still has live references.
func (b *BlockFile) Alive() bool { return b.RefCount() > 0 }

// Deref drops one reference. When the last reference goes, the block's
// cache file is released through the registry — unless a computation is in
// flight, in which case the worker detects the condemned block, aborts its
// commit, and performs the final release itself. Returns true when this call
// dropped the last reference.
func (b *BlockFile) Deref(ctx context.Context) (bool, error) {
	b.refMu.Lock()
	if b.refCount <= 0 {
		b.refMu.Unlock()
		return false, ErrReleased
	}
	b.refCount--
	if b.refCount > 0 {
		b.refMu.Unlock()
		return false, nil
	}

	b.stateMu.RLock()
	computing := b.state == SummaryBeingComputed
	b.stateMu.RUnlock()

	if computing {
		// Destruction must not race the in-flight write. The worker owns
		// the cleanup from here.
		b.condemned = true
		b.refMu.Unlock()
		return true, nil
	}
	b.refMu.Unlock()
	return true, b.finalRelease(ctx)
}

// finalRelease drops the cache-file reference exactly once.
func (b *BlockFile) finalRelease(ctx context.Context) error {
	if b.released.Swap(true) {
		return nil
	}
	name := b.CacheFile()
	removed, err := b.deps.Registry.ReleaseBlock(ctx, name)
	if err != nil {
		return err
	}
	if removed {
		b.deps.Logger.Debug("cache file released", "block", b.id, "cache_file", name)
	}
	return nil
}

// Copy produces a new block over the same alias range. An available summary
// is immutable, so the copy shares the buffer and the cache file; a pending
// block's copy starts unavailable with its own cache file and needs its own
// scheduling — copies never share an in-flight computation. The caller is
// responsible for registering the copy's cache file and scheduling it.
func (b *BlockFile) Copy(id uint64, freshCacheFile string) *BlockFile {
	b.stateMu.RLock()
	state := b.state
	buf := b.buf
	b.stateMu.RUnlock()

	nb := New(id, b.AliasedFile(), b.rng, freshCacheFile, b.deps)
	nb.start.Store(b.start.Load())
	nb.clipOffset.Store(b.clipOffset.Load())

	if state == SummaryAvailable {
		nb.cacheFile = b.CacheFile()
		nb.state = SummaryAvailable
		nb.buf = buf
	}
	return nb
}

// SharesCacheFile reports whether two blocks reference the same cache file.
func (b *BlockFile) SharesCacheFile(other *BlockFile) bool {
	return b.CacheFile() == other.CacheFile()
}

// SpaceUsage returns the on-disk size of the persisted summary, or zero when
// nothing is persisted yet.
func (b *BlockFile) SpaceUsage() int64 {
	fi, err := b.deps.FS.Stat(b.deps.Registry.Path(b.CacheFile()))
	if err != nil {
		return 0
	}
	return fi.Size()
}
