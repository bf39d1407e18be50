// Package summary implements the two-resolution min/max/RMS summary that
// waveform rendering reads instead of decoding raw samples.
//
// A summary holds one frame per 256 raw samples (fine) and one frame per
// 65536 raw samples (coarse). Coarse frames are derived from fine frames:
// min of mins, max of maxes, and RMS combined through sum-of-squares
// accumulation weighted by sample counts, never by averaging RMS values.
package summary

import "math"

const (
	// FineFrameLen is the number of raw samples covered by one fine frame.
	FineFrameLen = 256
	// CoarseFrameLen is the number of raw samples covered by one coarse frame.
	CoarseFrameLen = 65536
	// FineFramesPerCoarse is the number of fine frames aggregated into one
	// coarse frame.
	FineFramesPerCoarse = CoarseFrameLen / FineFrameLen
)

// Frame is the statistic of one span of raw samples.
type Frame struct {
	Min float32
	Max float32
	RMS float32
}

// Buffer is the complete summary of one block's raw sample span.
// Once computed, a Buffer is immutable and safe to share across goroutines.
type Buffer struct {
	// SampleLen is the number of raw samples the summary covers.
	SampleLen int64
	// Fine has one frame per FineFrameLen samples; the last frame may cover
	// a short tail.
	Fine []Frame
	// Coarse has one frame per CoarseFrameLen samples; the last frame may
	// cover a short tail.
	Coarse []Frame
	// Global is the statistic across the whole span.
	Global Frame
}

// FineFrames returns the number of fine frames covering n samples.
func FineFrames(n int64) int {
	return int((n + FineFrameLen - 1) / FineFrameLen)
}

// CoarseFrames returns the number of coarse frames covering n samples.
func CoarseFrames(n int64) int {
	return int((n + CoarseFrameLen - 1) / CoarseFrameLen)
}

// ComputeFrame returns the statistic of a raw sample span.
func ComputeFrame(samples []float32) Frame {
	if len(samples) == 0 {
		return Frame{}
	}
	min, max := samples[0], samples[0]
	var sumsq float64
	for _, s := range samples {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		sumsq += float64(s) * float64(s)
	}
	return Frame{
		Min: min,
		Max: max,
		RMS: float32(math.Sqrt(sumsq / float64(len(samples)))),
	}
}

// Compute builds the full two-resolution summary of samples in a single pass
// over the raw data. This is the expensive step the background worker runs
// exactly once per block.
func Compute(samples []float32) *Buffer {
	n := int64(len(samples))
	buf := &Buffer{
		SampleLen: n,
		Fine:      make([]Frame, FineFrames(n)),
		Coarse:    make([]Frame, CoarseFrames(n)),
	}
	if n == 0 {
		return buf
	}

	// Fine frames straight from the raw samples.
	for i := range buf.Fine {
		lo := i * FineFrameLen
		hi := lo + FineFrameLen
		if hi > len(samples) {
			hi = len(samples)
		}
		buf.Fine[i] = ComputeFrame(samples[lo:hi])
	}

	// Coarse frames aggregated from fine frames.
	for i := range buf.Coarse {
		lo := i * FineFramesPerCoarse
		hi := lo + FineFramesPerCoarse
		if hi > len(buf.Fine) {
			hi = len(buf.Fine)
		}
		buf.Coarse[i] = aggregateSpan(buf.Fine[lo:hi], FineFrameLen, fineTail(n, hi))
	}

	buf.Global = aggregateSpan(buf.Coarse, CoarseFrameLen, coarseTail(n))
	return buf
}

// Aggregate combines consecutive frames into a single statistic. Every frame
// covers frameLen samples except the last, which covers tailLen (pass
// frameLen when the span ends on a frame boundary).
func Aggregate(frames []Frame, frameLen, tailLen int) Frame {
	return aggregateSpan(frames, frameLen, tailLen)
}

// Merge combines two statistics covering na and nb samples respectively.
func Merge(a Frame, na int64, b Frame, nb int64) Frame {
	if na == 0 {
		return b
	}
	if nb == 0 {
		return a
	}
	out := a
	if b.Min < out.Min {
		out.Min = b.Min
	}
	if b.Max > out.Max {
		out.Max = b.Max
	}
	sumsq := float64(a.RMS)*float64(a.RMS)*float64(na) +
		float64(b.RMS)*float64(b.RMS)*float64(nb)
	out.RMS = float32(math.Sqrt(sumsq / float64(na+nb)))
	return out
}

func aggregateSpan(frames []Frame, frameLen, tailLen int) Frame {
	if len(frames) == 0 {
		return Frame{}
	}
	out := Frame{Min: frames[0].Min, Max: frames[0].Max}
	var sumsq float64
	var total int64
	for i, f := range frames {
		if f.Min < out.Min {
			out.Min = f.Min
		}
		if f.Max > out.Max {
			out.Max = f.Max
		}
		n := frameLen
		if i == len(frames)-1 {
			n = tailLen
		}
		sumsq += float64(f.RMS) * float64(f.RMS) * float64(n)
		total += int64(n)
	}
	if total > 0 {
		out.RMS = float32(math.Sqrt(sumsq / float64(total)))
	}
	return out
}

// fineTail returns the sample count of fine frame hi-1 for a span of n samples.
func fineTail(n int64, hi int) int {
	end := int64(hi) * FineFrameLen
	if end <= n {
		return FineFrameLen
	}
	return int(FineFrameLen - (end - n))
}

// coarseTail returns the sample count of the last coarse frame of a span of
// n samples.
func coarseTail(n int64) int {
	rem := n % CoarseFrameLen
	if rem == 0 {
		return CoarseFrameLen
	}
	return int(rem)
}
