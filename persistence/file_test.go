package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecache/wavecache/codec"
	"github.com/wavecache/wavecache/internal/fs"
	"github.com/wavecache/wavecache/summary"
	"github.com/wavecache/wavecache/testutil"
)

func testBuffer(t *testing.T) *summary.Buffer {
	t.Helper()
	return summary.Compute(testutil.Sine(100000))
}

func TestRoundTrip(t *testing.T) {
	buf := testBuffer(t)

	for _, c := range []codec.Codec{codec.None{}, codec.LZ4{}, codec.Zstd{}} {
		t.Run(c.Name(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "block.wsum")
			require.NoError(t, WriteFile(fs.Default, path, buf, c))

			got, err := ReadFile(fs.Default, path)
			require.NoError(t, err)
			assert.Equal(t, buf.SampleLen, got.SampleLen)
			assert.Equal(t, buf.Fine, got.Fine)
			assert.Equal(t, buf.Coarse, got.Coarse)
			assert.Equal(t, buf.Global, got.Global)
		})
	}
}

func TestReadMissing(t *testing.T) {
	_, err := ReadFile(fs.Default, filepath.Join(t.TempDir(), "absent.wsum"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "block.wsum")
	require.NoError(t, WriteFile(fs.Default, path, testBuffer(t), codec.None{}))

	t.Run("flipped payload byte", func(t *testing.T) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[len(data)-1] ^= 0xff
		bad := filepath.Join(dir, "flipped.wsum")
		require.NoError(t, os.WriteFile(bad, data, 0644))

		_, err = ReadFile(fs.Default, bad)
		assert.ErrorIs(t, err, ErrCorrupt)
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("truncated", func(t *testing.T) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		bad := filepath.Join(dir, "truncated.wsum")
		require.NoError(t, os.WriteFile(bad, data[:len(data)/2], 0644))

		_, err = ReadFile(fs.Default, bad)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("not a summary file", func(t *testing.T) {
		bad := filepath.Join(dir, "junk.wsum")
		require.NoError(t, os.WriteFile(bad, make([]byte, 256), 0644))

		_, err := ReadFile(fs.Default, bad)
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})
}

func TestWriteFaultLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "block.wsum")

	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("block.wsum.tmp", fs.Fault{FailAfterBytes: 16})

	err := WriteFile(ffs, path, testBuffer(t), codec.None{})
	require.ErrorIs(t, err, fs.ErrInjected)

	// Neither the destination nor the temp file may survive a failed write.
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(path + ".tmp")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteFaultThenRetry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "block.wsum")
	buf := testBuffer(t)

	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("block.wsum.tmp", fs.Fault{FailOnSync: true})
	require.Error(t, WriteFile(ffs, path, buf, codec.Zstd{}))

	ffs.ClearRule("block.wsum.tmp")
	require.NoError(t, WriteFile(ffs, path, buf, codec.Zstd{}))

	got, err := ReadFile(fs.Default, path)
	require.NoError(t, err)
	assert.Equal(t, buf.Fine, got.Fine)
}
