package blockfile

import (
	"github.com/wavecache/wavecache/record"
)

// Record captures the block's persistable state. A block whose summary is
// still pending serializes with the unavailable marker and no statistics;
// reconstructing such a record re-enters the computation queue.
func (b *BlockFile) Record() record.Block {
	ref := b.AliasedFile()

	b.stateMu.RLock()
	state := b.state
	buf := b.buf
	b.stateMu.RUnlock()

	rec := record.Block{
		AliasedFile: record.AliasedFile{
			Path:     ref.Path,
			Format:   ref.Format,
			Channels: ref.Channels,
		},
		AliasStart:   b.rng.Start,
		AliasLen:     b.rng.Len,
		AliasChannel: b.rng.Channel,
		CacheFile:    b.CacheFile(),
		Start:        b.Start(),
		ClipOffset:   b.ClipOffset(),
	}
	if state == SummaryAvailable {
		rec.SummaryAvailable = true
		rec.Min = buf.Global.Min
		rec.Max = buf.Global.Max
		rec.RMS = buf.Global.RMS
	}
	return rec
}

// MarkSaved records that a save boundary durably captured the block's
// current state. Called after the project file write succeeds.
func (b *BlockFile) MarkSaved() {
	b.fileNameMu.Lock()
	defer b.fileNameMu.Unlock()
	b.hasBeenSaved = true
}

// CloseLock pins the cache file of a previously saved block across
// shutdown: once called, dropping the last reference no longer removes the
// file, because a saved project on disk still points at it. Blocks never
// saved are unaffected. Not balanced by an unlock.
func (b *BlockFile) CloseLock() {
	b.fileNameMu.Lock()
	saved := b.hasBeenSaved
	b.fileNameMu.Unlock()
	if saved {
		b.released.Store(true)
	}
}
