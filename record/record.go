// Package record defines the versioned persistence record for block files
// and the project file that carries them across save/reload.
//
// A record captures everything needed to rebuild a block: the aliased file
// reference, the alias range, the cache-file reference, and either the
// computed statistics with an "available" marker or an "unavailable" marker
// with none. Reconstructing an unavailable record re-enters the background
// computation queue; that obligation survives a crash or premature save.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wavecache/wavecache/internal/fs"
	"github.com/wavecache/wavecache/model"
)

// CurrentVersion is the project file format version.
const CurrentVersion = 1

var (
	// ErrInvalidRecord flags a record whose fields cannot describe a block.
	ErrInvalidRecord = errors.New("invalid block record")
	// ErrVersion flags a project file newer than this package understands.
	ErrVersion = errors.New("unsupported project version")
)

// AliasedFile is the serialized form of a model.AliasRef.
type AliasedFile struct {
	Path     string             `json:"path"`
	Format   model.SampleFormat `json:"format"`
	Channels int                `json:"channels"`
}

// Block is the persisted form of one block file.
type Block struct {
	AliasedFile  AliasedFile `json:"aliased_file"`
	AliasStart   int64       `json:"alias_start"`
	AliasLen     int64       `json:"alias_len"`
	AliasChannel int         `json:"alias_channel"`
	CacheFile    string      `json:"cache_file"`

	// SummaryAvailable records whether the summary had been computed and
	// persisted when this record was written. When false the stats fields
	// are meaningless and the block must be rescheduled on reconstruction.
	SummaryAvailable bool    `json:"summary_available"`
	Min              float32 `json:"min,omitempty"`
	Max              float32 `json:"max,omitempty"`
	RMS              float32 `json:"rms,omitempty"`

	// Display coordinates, informational only.
	Start      int64 `json:"start,omitempty"`
	ClipOffset int64 `json:"clip_offset,omitempty"`
}

// Ref returns the alias file reference the record describes.
func (b Block) Ref() model.AliasRef {
	return model.AliasRef{
		Path:     b.AliasedFile.Path,
		Format:   b.AliasedFile.Format,
		Channels: b.AliasedFile.Channels,
	}
}

// Range returns the alias range the record describes.
func (b Block) Range() model.AliasRange {
	return model.AliasRange{Start: b.AliasStart, Len: b.AliasLen, Channel: b.AliasChannel}
}

// Validate reports whether the record can describe a block at all.
func (b Block) Validate() error {
	switch {
	case b.AliasedFile.Path == "":
		return fmt.Errorf("%w: empty aliased file path", ErrInvalidRecord)
	case !b.AliasedFile.Format.Valid():
		return fmt.Errorf("%w: sample format %d", ErrInvalidRecord, b.AliasedFile.Format)
	case b.AliasedFile.Channels <= 0:
		return fmt.Errorf("%w: %d channels", ErrInvalidRecord, b.AliasedFile.Channels)
	case b.AliasStart < 0 || b.AliasLen < 0:
		return fmt.Errorf("%w: alias range [%d, +%d)", ErrInvalidRecord, b.AliasStart, b.AliasLen)
	case b.AliasChannel < 0 || b.AliasChannel >= b.AliasedFile.Channels:
		return fmt.Errorf("%w: channel %d of %d", ErrInvalidRecord, b.AliasChannel, b.AliasedFile.Channels)
	case b.CacheFile == "":
		return fmt.Errorf("%w: empty cache file", ErrInvalidRecord)
	}
	return nil
}

// Project is the saved state of every block in a project.
type Project struct {
	Version int     `json:"version"`
	Blocks  []Block `json:"blocks"`
}

// SaveProject atomically writes blocks to path: temp file, write, sync,
// rename, directory sync.
func SaveProject(fsys fs.FileSystem, path string, blocks []Block) error {
	data, err := json.MarshalIndent(Project{Version: CurrentVersion, Blocks: blocks}, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	f, err := fsys.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		fsys.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fsys.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		fsys.Remove(tmpPath)
		return err
	}

	if err := fsys.Rename(tmpPath, path); err != nil {
		fsys.Remove(tmpPath)
		return err
	}
	return syncDir(fsys, filepath.Dir(path))
}

// LoadProject reads and validates a project file.
func LoadProject(fsys fs.FileSystem, path string) ([]Block, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var p Project
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", path, err)
	}
	if p.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d (expected %d)", ErrVersion, p.Version, CurrentVersion)
	}
	for i, b := range p.Blocks {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
	}
	return p.Blocks, nil
}

func syncDir(fsys fs.FileSystem, dir string) error {
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
