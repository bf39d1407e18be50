package blockfile

import (
	"context"

	"github.com/wavecache/wavecache/summary"
)

// ReadRaw decodes n raw samples starting at the block-local sample index
// start. Always available while the aliased file is reachable; serialized
// against other decodes through the decode guard.
func (b *BlockFile) ReadRaw(ctx context.Context, dst []float32, start, n int64) error {
	if !b.rng.Contains(start, n) {
		return ErrOutOfRange
	}
	return b.readRaw(ctx, dst[:n], start, n)
}

// GetMinMax returns the statistic of [start, start+n) in block-local
// coordinates. With a summary available the interior is served from cached
// coarse and fine frames and only ragged sub-frame edges are decoded live,
// so the answer is identical to a live computation. Without a summary the
// whole span is decoded on the fly — more expensive but correct, and never
// waiting on the background worker.
func (b *BlockFile) GetMinMax(ctx context.Context, start, n int64) (summary.Frame, error) {
	if !b.rng.Contains(start, n) {
		return summary.Frame{}, ErrOutOfRange
	}
	if n == 0 {
		return summary.Frame{}, nil
	}

	b.stateMu.RLock()
	state := b.state
	buf := b.buf
	b.stateMu.RUnlock()

	if state != SummaryAvailable {
		return b.liveFrame(ctx, start, n)
	}
	if start == 0 && n == b.rng.Len {
		return buf.Global, nil
	}
	return b.minMaxFromSummary(ctx, buf, start, start+n)
}

// GetMinMaxAll returns the statistic of the whole block.
func (b *BlockFile) GetMinMaxAll(ctx context.Context) (summary.Frame, error) {
	return b.GetMinMax(ctx, 0, b.rng.Len)
}

// ReadFineSummary copies n fine frames starting at frame index from into
// dst. When the summary is not yet available the frames are synthesized by
// decoding and downsampling the raw samples live — computed data, never
// stale bytes, and never a wait on the worker.
func (b *BlockFile) ReadFineSummary(ctx context.Context, dst []summary.Frame, from, n int) error {
	return b.readSummary(ctx, dst, from, n, summary.FineFrameLen)
}

// ReadCoarseSummary copies n coarse frames starting at frame index from into
// dst, with the same degraded-mode behavior as ReadFineSummary.
func (b *BlockFile) ReadCoarseSummary(ctx context.Context, dst []summary.Frame, from, n int) error {
	return b.readSummary(ctx, dst, from, n, summary.CoarseFrameLen)
}

func (b *BlockFile) readSummary(ctx context.Context, dst []summary.Frame, from, n, frameLen int) error {
	total := int((b.rng.Len + int64(frameLen) - 1) / int64(frameLen))
	if from < 0 || n < 0 || from+n > total || len(dst) < n {
		return ErrOutOfRange
	}
	if n == 0 {
		return nil
	}

	b.stateMu.RLock()
	state := b.state
	buf := b.buf
	b.stateMu.RUnlock()

	if state == SummaryAvailable {
		if frameLen == summary.FineFrameLen {
			copy(dst, buf.Fine[from:from+n])
		} else {
			copy(dst, buf.Coarse[from:from+n])
		}
		return nil
	}

	// Degraded mode: one decode of the covered span, then frame it.
	lo := int64(from) * int64(frameLen)
	hi := int64(from+n) * int64(frameLen)
	if hi > b.rng.Len {
		hi = b.rng.Len
	}
	samples := make([]float32, hi-lo)
	if err := b.readRaw(ctx, samples, lo, hi-lo); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		flo := i * frameLen
		fhi := flo + frameLen
		if fhi > len(samples) {
			fhi = len(samples)
		}
		dst[i] = summary.ComputeFrame(samples[flo:fhi])
	}
	return nil
}

// readRaw serializes decoder access for a block-local span.
func (b *BlockFile) readRaw(ctx context.Context, dst []float32, start, n int64) error {
	ref := b.AliasedFile()
	b.readMu.Lock()
	defer b.readMu.Unlock()
	return b.deps.Decoder.ReadSamples(ctx, ref, b.rng.Channel, b.rng.Start+start, n, dst)
}

// liveFrame decodes [start, start+n) and computes its statistic directly.
func (b *BlockFile) liveFrame(ctx context.Context, start, n int64) (summary.Frame, error) {
	samples := make([]float32, n)
	if err := b.readRaw(ctx, samples, start, n); err != nil {
		return summary.Frame{}, err
	}
	return summary.ComputeFrame(samples), nil
}

// minMaxFromSummary serves [lo, hi) from the cached summary: whole fine
// frames (grouped into coarse frames where aligned) come from the buffer,
// ragged edges are decoded live and merged in.
func (b *BlockFile) minMaxFromSummary(ctx context.Context, buf *summary.Buffer, lo, hi int64) (summary.Frame, error) {
	loFrame := int((lo + summary.FineFrameLen - 1) / summary.FineFrameLen)
	hiFrame := int(hi / summary.FineFrameLen)
	if hi == b.rng.Len {
		hiFrame = len(buf.Fine)
	}
	if loFrame >= hiFrame {
		// No whole frame inside the span.
		return b.liveFrame(ctx, lo, hi-lo)
	}

	var acc summary.Frame
	var accN int64

	if headLen := int64(loFrame)*summary.FineFrameLen - lo; headLen > 0 {
		head, err := b.liveFrame(ctx, lo, headLen)
		if err != nil {
			return summary.Frame{}, err
		}
		acc, accN = head, headLen
	}

	interior, interiorN := summaryInterior(buf, loFrame, hiFrame)
	acc = summary.Merge(acc, accN, interior, interiorN)
	accN += interiorN

	interiorEnd := int64(hiFrame) * summary.FineFrameLen
	if hiFrame == len(buf.Fine) {
		interiorEnd = b.rng.Len
	}
	if tailLen := hi - interiorEnd; tailLen > 0 {
		tail, err := b.liveFrame(ctx, interiorEnd, tailLen)
		if err != nil {
			return summary.Frame{}, err
		}
		acc = summary.Merge(acc, accN, tail, tailLen)
		accN += tailLen
	}
	return acc, nil
}

// summaryInterior aggregates whole fine frames [loFrame, hiFrame), reading
// coarse frames for fully covered coarse-aligned groups.
func summaryInterior(buf *summary.Buffer, loFrame, hiFrame int) (summary.Frame, int64) {
	cLo := (loFrame + summary.FineFramesPerCoarse - 1) / summary.FineFramesPerCoarse
	cHi := hiFrame / summary.FineFramesPerCoarse
	if hiFrame == len(buf.Fine) {
		cHi = len(buf.Coarse)
	}
	if cLo >= cHi {
		return fineSpan(buf, loFrame, hiFrame)
	}

	acc, accN := fineSpan(buf, loFrame, cLo*summary.FineFramesPerCoarse)

	coarse, coarseN := coarseSpan(buf, cLo, cHi)
	acc = summary.Merge(acc, accN, coarse, coarseN)
	accN += coarseN

	if fineStart := cHi * summary.FineFramesPerCoarse; fineStart < hiFrame {
		rest, restN := fineSpan(buf, fineStart, hiFrame)
		acc = summary.Merge(acc, accN, rest, restN)
		accN += restN
	}
	return acc, accN
}

func fineSpan(buf *summary.Buffer, lo, hi int) (summary.Frame, int64) {
	if lo >= hi {
		return summary.Frame{}, 0
	}
	tail := fineFrameSamples(buf, hi-1)
	n := int64(hi-lo-1)*summary.FineFrameLen + int64(tail)
	return summary.Aggregate(buf.Fine[lo:hi], summary.FineFrameLen, tail), n
}

func coarseSpan(buf *summary.Buffer, lo, hi int) (summary.Frame, int64) {
	if lo >= hi {
		return summary.Frame{}, 0
	}
	tail := coarseFrameSamples(buf, hi-1)
	n := int64(hi-lo-1)*summary.CoarseFrameLen + int64(tail)
	return summary.Aggregate(buf.Coarse[lo:hi], summary.CoarseFrameLen, tail), n
}

// fineFrameSamples returns how many raw samples fine frame i covers; only
// the last frame of a buffer can be short.
func fineFrameSamples(buf *summary.Buffer, i int) int {
	if end := int64(i+1) * summary.FineFrameLen; end > buf.SampleLen {
		return int(buf.SampleLen - int64(i)*summary.FineFrameLen)
	}
	return summary.FineFrameLen
}

func coarseFrameSamples(buf *summary.Buffer, i int) int {
	if end := int64(i+1) * summary.CoarseFrameLen; end > buf.SampleLen {
		return int(buf.SampleLen - int64(i)*summary.CoarseFrameLen)
	}
	return summary.CoarseFrameLen
}
