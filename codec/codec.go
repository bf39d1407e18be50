// Package codec centralizes compression of persisted summary payloads.
//
// The summary cache file stores the codec tag in its header, so files are
// self-describing: any file can be read back regardless of the codec the
// cache is currently configured with.
package codec

import "fmt"

// Codec compresses and decompresses summary payload bytes.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Compress returns the encoded form of data.
	Compress(data []byte) ([]byte, error)
	// Decompress decodes data. size is the expected decoded length.
	Decompress(data []byte, size int) ([]byte, error)
	// Name is the stable human-readable codec name.
	Name() string
	// Tag is the stable identifier written into file headers.
	Tag() uint8
}

// Default is the codec used when none is configured.
var Default Codec = None{}

// ByTag returns a built-in codec by its header tag.
//
// This is how the cache-file reader resolves the codec a file was written
// with.
func ByTag(tag uint8) (Codec, bool) {
	switch tag {
	case None{}.Tag():
		return None{}, true
	case LZ4{}.Tag():
		return LZ4{}, true
	case Zstd{}.Tag():
		return Zstd{}, true
	default:
		return nil, false
	}
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "none":
		return None{}, true
	case "lz4":
		return LZ4{}, true
	case "zstd":
		return Zstd{}, true
	default:
		return nil, false
	}
}

// None stores payloads uncompressed.
type None struct{}

func (None) Compress(data []byte) ([]byte, error) { return data, nil }

func (None) Decompress(data []byte, size int) ([]byte, error) {
	if len(data) != size {
		return nil, fmt.Errorf("codec none: payload is %d bytes, expected %d", len(data), size)
	}
	return data, nil
}

func (None) Name() string { return "none" }

func (None) Tag() uint8 { return 0 }
