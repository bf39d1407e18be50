package registry

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecache/wavecache/internal/fs"
)

func TestAssignUnique(t *testing.T) {
	r, err := New(fs.Default, t.TempDir(), nil)
	require.NoError(t, err)

	a := r.AssignCacheFile()
	b := r.AssignCacheFile()
	assert.NotEqual(t, a, b)
	assert.Equal(t, 1, r.Refs(a))
}

func TestReleaseRemovesFileOnce(t *testing.T) {
	r, err := New(fs.Default, t.TempDir(), nil)
	require.NoError(t, err)

	name := r.AssignCacheFile()
	require.NoError(t, os.WriteFile(r.Path(name), []byte("x"), 0644))
	r.RegisterBlock(name)
	require.Equal(t, 2, r.Refs(name))

	removed, err := r.ReleaseBlock(context.Background(), name)
	require.NoError(t, err)
	assert.False(t, removed)
	_, err = os.Stat(r.Path(name))
	assert.NoError(t, err)

	removed, err = r.ReleaseBlock(context.Background(), name)
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = os.Stat(r.Path(name))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = r.ReleaseBlock(context.Background(), name)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestReleasePendingFileMissing(t *testing.T) {
	r, err := New(fs.Default, t.TempDir(), nil)
	require.NoError(t, err)

	// Summary was never written, nothing on disk to remove.
	name := r.AssignCacheFile()
	removed, err := r.ReleaseBlock(context.Background(), name)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestUnregisterLeavesFile(t *testing.T) {
	r, err := New(fs.Default, t.TempDir(), nil)
	require.NoError(t, err)

	name := r.AssignCacheFile()
	require.NoError(t, os.WriteFile(r.Path(name), []byte("x"), 0644))

	r.Unregister(name)
	assert.Equal(t, 0, r.Refs(name))
	_, err = os.Stat(r.Path(name))
	assert.NoError(t, err)
}

func TestRegisterAdvancesIDCounter(t *testing.T) {
	r, err := New(fs.Default, t.TempDir(), nil)
	require.NoError(t, err)

	r.RegisterBlock("00000000000000ff.wsum")
	assert.Equal(t, "0000000000000100.wsum", r.AssignCacheFile())
}

func TestRename(t *testing.T) {
	r, err := New(fs.Default, t.TempDir(), nil)
	require.NoError(t, err)

	name := r.AssignCacheFile()
	require.NoError(t, os.WriteFile(r.Path(name), []byte("x"), 0644))

	require.NoError(t, r.Rename(name, "renamed.wsum"))
	assert.Equal(t, 0, r.Refs(name))
	assert.Equal(t, 1, r.Refs("renamed.wsum"))
	_, err = os.Stat(r.Path("renamed.wsum"))
	assert.NoError(t, err)

	assert.ErrorIs(t, r.Rename("missing.wsum", "x.wsum"), ErrNotRegistered)
}
