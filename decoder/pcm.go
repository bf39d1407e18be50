package decoder

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/wavecache/wavecache/blobstore"
	"github.com/wavecache/wavecache/model"
)

// PCMDecoder decodes headerless interleaved PCM from a blob store.
// Open blobs are kept cached per path until Close.
type PCMDecoder struct {
	store blobstore.Store

	mu    sync.Mutex
	blobs map[string]blobstore.Blob
}

// NewPCMDecoder creates a decoder reading aliased files from store.
func NewPCMDecoder(store blobstore.Store) *PCMDecoder {
	return &PCMDecoder{
		store: store,
		blobs: make(map[string]blobstore.Blob),
	}
}

// ReadSamples implements Decoder.
func (d *PCMDecoder) ReadSamples(ctx context.Context, ref model.AliasRef, channel int, start, n int64, dst []float32) error {
	if !ref.Format.Valid() {
		return decodeErr(ref, fmt.Errorf("unknown sample format %d", ref.Format))
	}
	if channel < 0 || channel >= ref.Channels {
		return decodeErr(ref, fmt.Errorf("channel %d out of %d", channel, ref.Channels))
	}
	if int64(len(dst)) < n {
		return decodeErr(ref, fmt.Errorf("destination holds %d samples, need %d", len(dst), n))
	}
	if n == 0 {
		return nil
	}

	blob, err := d.open(ctx, ref.Path)
	if err != nil {
		return decodeErr(ref, err)
	}

	bps := ref.Format.BytesPerSample()
	stride := bps * ref.Channels
	off := start * int64(stride)
	raw := make([]byte, n*int64(stride))

	if _, err := blob.ReadAt(ctx, raw, off); err != nil {
		// A short read means the alias range points past the end of the
		// file: the file on disk is not the one the project referenced.
		return decodeErr(ref, err)
	}

	base := channel * bps
	for i := int64(0); i < n; i++ {
		dst[i] = decodeSample(ref.Format, raw[i*int64(stride)+int64(base):])
	}
	return nil
}

// Close releases all cached blob handles.
func (d *PCMDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for path, blob := range d.blobs {
		if err := blob.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.blobs, path)
	}
	return firstErr
}

func (d *PCMDecoder) open(ctx context.Context, path string) (blobstore.Blob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if blob, ok := d.blobs[path]; ok {
		return blob, nil
	}
	blob, err := d.store.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	d.blobs[path] = blob
	return blob, nil
}

func decodeSample(format model.SampleFormat, raw []byte) float32 {
	switch format {
	case model.Int16:
		v := int16(binary.LittleEndian.Uint16(raw))
		return float32(v) / 32768
	case model.Int24:
		v := int32(raw[0]) | int32(raw[1])<<8 | int32(raw[2])<<16
		if v&0x800000 != 0 {
			v -= 0x1000000
		}
		return float32(v) / 8388608
	case model.Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(raw))
	default:
		return 0
	}
}
