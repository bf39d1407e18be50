package model

import "fmt"

// SampleFormat identifies the on-disk encoding of raw samples in an aliased file.
type SampleFormat uint8

const (
	// Int16 is 16-bit signed little-endian PCM.
	Int16 SampleFormat = iota + 1
	// Int24 is 24-bit signed little-endian PCM, packed (3 bytes per sample).
	Int24
	// Float32 is 32-bit IEEE-754 little-endian PCM.
	Float32
)

// BytesPerSample returns the storage width of one sample.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case Int16:
		return 2
	case Int24:
		return 3
	case Float32:
		return 4
	default:
		return 0
	}
}

func (f SampleFormat) String() string {
	switch f {
	case Int16:
		return "int16"
	case Int24:
		return "int24"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("SampleFormat(%d)", uint8(f))
	}
}

// Valid reports whether f is a known sample format.
func (f SampleFormat) Valid() bool {
	return f == Int16 || f == Int24 || f == Float32
}

// AliasRef identifies an external file holding raw samples. The file is
// referenced, never owned: block files read from it but never write to or
// delete it.
type AliasRef struct {
	// Path is the blob name within the configured alias store.
	Path string
	// Format is the raw sample encoding.
	Format SampleFormat
	// Channels is the interleaved channel count.
	Channels int
}

// Frames returns the number of sample frames a blob of size bytes holds,
// given the ref's format and channel count.
func (r AliasRef) Frames(size int64) int64 {
	bps := int64(r.Format.BytesPerSample()) * int64(r.Channels)
	if bps <= 0 {
		return 0
	}
	return size / bps
}

// AliasRange is the span of an aliased file one block covers. It is fixed at
// construction and never changes for the lifetime of the block.
type AliasRange struct {
	// Start is the first sample of the span, in samples of the chosen channel.
	Start int64
	// Len is the number of samples in the span.
	Len int64
	// Channel selects one channel of the interleaved aliased file.
	Channel int
}

// End returns the sample index one past the last sample of the span.
func (r AliasRange) End() int64 { return r.Start + r.Len }

// Contains reports whether [start, start+n) lies fully inside the span,
// in block-local coordinates (0 .. Len).
func (r AliasRange) Contains(start, n int64) bool {
	return start >= 0 && n >= 0 && start+n <= r.Len
}
