package decoder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecache/wavecache/blobstore"
	"github.com/wavecache/wavecache/model"
	"github.com/wavecache/wavecache/testutil"
)

func TestReadSamplesFloat32(t *testing.T) {
	left := []float32{0.1, -0.2, 0.3, -0.4}
	right := []float32{0.5, -0.6, 0.7, -0.8}

	store := blobstore.NewMemoryStore()
	store.Put("stereo.raw", testutil.EncodePCM(model.Float32, [][]float32{left, right}))

	ref := model.AliasRef{Path: "stereo.raw", Format: model.Float32, Channels: 2}
	d := NewPCMDecoder(store)
	defer d.Close()

	dst := make([]float32, 4)
	require.NoError(t, d.ReadSamples(context.Background(), ref, 0, 0, 4, dst))
	assert.Equal(t, left, dst)

	require.NoError(t, d.ReadSamples(context.Background(), ref, 1, 0, 4, dst))
	assert.Equal(t, right, dst)

	// Offset read.
	require.NoError(t, d.ReadSamples(context.Background(), ref, 1, 2, 2, dst[:2]))
	assert.Equal(t, right[2:4], dst[:2])
}

func TestReadSamplesIntFormats(t *testing.T) {
	mono := []float32{0, 0.5, -0.5, 0.999, -1}

	for _, format := range []model.SampleFormat{model.Int16, model.Int24} {
		t.Run(format.String(), func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			store.Put("mono.raw", testutil.EncodePCM(format, [][]float32{mono}))

			ref := model.AliasRef{Path: "mono.raw", Format: format, Channels: 1}
			d := NewPCMDecoder(store)
			defer d.Close()

			dst := make([]float32, len(mono))
			require.NoError(t, d.ReadSamples(context.Background(), ref, 0, 0, int64(len(mono)), dst))
			for i := range mono {
				assert.InDelta(t, mono[i], dst[i], 1e-3, "sample %d", i)
			}
		})
	}
}

func TestReadSamplesErrors(t *testing.T) {
	store := blobstore.NewMemoryStore()
	store.Put("short.raw", testutil.EncodePCM(model.Int16, [][]float32{{0.1, 0.2}}))

	ref := model.AliasRef{Path: "short.raw", Format: model.Int16, Channels: 1}
	d := NewPCMDecoder(store)
	defer d.Close()

	dst := make([]float32, 16)

	// Missing file.
	missing := model.AliasRef{Path: "gone.raw", Format: model.Int16, Channels: 1}
	err := d.ReadSamples(context.Background(), missing, 0, 0, 1, dst)
	assert.ErrorIs(t, err, ErrDecode)

	// Read past the end of the aliased file.
	err = d.ReadSamples(context.Background(), ref, 0, 0, 16, dst)
	assert.ErrorIs(t, err, ErrDecode)

	// Bad channel.
	err = d.ReadSamples(context.Background(), ref, 3, 0, 1, dst)
	assert.ErrorIs(t, err, ErrDecode)
}
