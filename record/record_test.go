package record

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecache/wavecache/internal/fs"
	"github.com/wavecache/wavecache/model"
)

func validBlock() Block {
	return Block{
		AliasedFile:      AliasedFile{Path: "take1.raw", Format: model.Int16, Channels: 2},
		AliasStart:       1024,
		AliasLen:         100000,
		AliasChannel:     1,
		CacheFile:        "000000000000002a.wsum",
		SummaryAvailable: true,
		Min:              -0.75,
		Max:              0.8,
		RMS:              0.31,
		Start:            4096,
		ClipOffset:       512,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json")

	pending := validBlock()
	pending.SummaryAvailable = false
	pending.Min, pending.Max, pending.RMS = 0, 0, 0
	pending.CacheFile = "000000000000002b.wsum"

	blocks := []Block{validBlock(), pending}
	require.NoError(t, SaveProject(fs.Default, path, blocks))

	got, err := LoadProject(fs.Default, path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, blocks, got)

	assert.Equal(t, model.AliasRange{Start: 1024, Len: 100000, Channel: 1}, got[0].Range())
	assert.Equal(t, model.AliasRef{Path: "take1.raw", Format: model.Int16, Channels: 2}, got[0].Ref())
	assert.False(t, got[1].SummaryAvailable)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "blocks": []}`), 0644))

	_, err := LoadProject(fs.Default, path)
	assert.ErrorIs(t, err, ErrVersion)
}

func TestLoadRejectsInvalidBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json")

	bad := validBlock()
	bad.AliasChannel = 5
	require.NoError(t, SaveProject(fs.Default, path, []Block{bad}))

	_, err := LoadProject(fs.Default, path)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Block)
	}{
		{"empty path", func(b *Block) { b.AliasedFile.Path = "" }},
		{"bad format", func(b *Block) { b.AliasedFile.Format = 0 }},
		{"no channels", func(b *Block) { b.AliasedFile.Channels = 0 }},
		{"negative start", func(b *Block) { b.AliasStart = -1 }},
		{"negative len", func(b *Block) { b.AliasLen = -1 }},
		{"channel out of range", func(b *Block) { b.AliasChannel = 2 }},
		{"empty cache file", func(b *Block) { b.CacheFile = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBlock()
			tt.mutate(&b)
			assert.ErrorIs(t, b.Validate(), ErrInvalidRecord)
		})
	}

	assert.NoError(t, validBlock().Validate())
}
