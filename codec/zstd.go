package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Reused across calls; both are safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Zstd compresses payloads with zstandard. Best ratio of the built-in
// codecs; summary frames of quiet audio compress extremely well.
type Zstd struct{}

func (Zstd) Compress(data []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(data, nil), nil
}

func (Zstd) Decompress(data []byte, size int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("codec zstd: %w", err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("codec zstd: decoded %d bytes, expected %d", len(out), size)
	}
	return out, nil
}

func (Zstd) Name() string { return "zstd" }

func (Zstd) Tag() uint8 { return 2 }
