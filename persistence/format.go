// Package persistence defines the binary format of summary cache files and
// the atomic write protocol used to commit them.
//
// A cache file is a fixed header followed by the fine frames and then the
// coarse frames as little-endian float32 (min, max, rms) triples, run through
// the codec named in the header. The payload carries a CRC32 so torn or
// corrupted files are detected at read time and reported as persistence
// failures, never served as summary data.
package persistence

import "errors"

const (
	// MagicNumber identifies summary cache files (ASCII "WSM1").
	MagicNumber = 0x57534d31
	// Version is the current file format version.
	Version = 0x00010000
)

var (
	// ErrCorrupt flags a cache file that exists but cannot be trusted.
	// All format-level failures wrap it.
	ErrCorrupt = errors.New("summary file corrupt")

	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported version")
	ErrUnknownCodec   = errors.New("unknown codec tag")
	ErrChecksum       = errors.New("checksum mismatch")
)

// FileHeader is the fixed-size header at the start of every cache file.
type FileHeader struct {
	Magic       uint32
	Version     uint32
	Codec       uint8 // codec.Codec tag the payload was written with
	Padding     [3]byte
	FineCount   uint32 // number of fine frames
	CoarseCount uint32 // number of coarse frames
	SampleLen   uint64 // raw samples the summary covers
	GlobalMin   float32
	GlobalMax   float32
	GlobalRMS   float32
	RawSize     uint32 // payload bytes before compression
	PayloadSize uint32 // payload bytes as stored
	Checksum    uint32 // CRC32 (IEEE) of the stored payload
}

// frameSize is the encoded size of one (min, max, rms) triple.
const frameSize = 12
