package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/wavecache/wavecache/codec"
	"github.com/wavecache/wavecache/internal/fs"
	"github.com/wavecache/wavecache/summary"
)

// WriteFile persists buf to path atomically: temp file, write, sync, rename,
// directory sync. The destination never holds a partially written summary —
// either the old content survives or the new content is complete. On error
// the temp file is removed.
func WriteFile(fsys fs.FileSystem, path string, buf *summary.Buffer, c codec.Codec) error {
	if c == nil {
		c = codec.Default
	}

	raw := encodeFrames(buf)
	payload, err := c.Compress(raw)
	if err != nil {
		return fmt.Errorf("compress summary: %w", err)
	}

	header := FileHeader{
		Magic:       MagicNumber,
		Version:     Version,
		Codec:       c.Tag(),
		FineCount:   uint32(len(buf.Fine)),
		CoarseCount: uint32(len(buf.Coarse)),
		SampleLen:   uint64(buf.SampleLen),
		GlobalMin:   buf.Global.Min,
		GlobalMax:   buf.Global.Max,
		GlobalRMS:   buf.Global.RMS,
		RawSize:     uint32(len(raw)),
		PayloadSize: uint32(len(payload)),
		Checksum:    crc32.ChecksumIEEE(payload),
	}

	tmpPath := path + ".tmp"
	f, err := fsys.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	fail := func(err error) error {
		f.Close()
		fsys.Remove(tmpPath)
		return err
	}

	if err := binary.Write(f, binary.LittleEndian, &header); err != nil {
		return fail(err)
	}
	if _, err := f.Write(payload); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
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

// ReadFile loads and validates a summary cache file. Missing files return an
// error satisfying errors.Is(err, os.ErrNotExist); structural damage returns
// an error wrapping ErrCorrupt.
func ReadFile(fsys fs.FileSystem, path string) (*summary.Buffer, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var header FileHeader
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: short header: %w", ErrCorrupt, err)
	}
	if header.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: %w: got 0x%08x", ErrCorrupt, ErrInvalidMagic, header.Magic)
	}
	if header.Version != Version {
		return nil, fmt.Errorf("%w: %w: got 0x%08x", ErrCorrupt, ErrInvalidVersion, header.Version)
	}
	c, ok := codec.ByTag(header.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: %w: 0x%02x", ErrCorrupt, ErrUnknownCodec, header.Codec)
	}
	if wantRaw := (int(header.FineCount) + int(header.CoarseCount)) * frameSize; int(header.RawSize) != wantRaw {
		return nil, fmt.Errorf("%w: raw size %d does not match %d frames", ErrCorrupt, header.RawSize, header.FineCount+header.CoarseCount)
	}

	payload := make([]byte, header.PayloadSize)
	if _, err := io.ReadFull(f, payload); err != nil {
		return nil, fmt.Errorf("%w: short payload: %w", ErrCorrupt, err)
	}
	if sum := crc32.ChecksumIEEE(payload); sum != header.Checksum {
		return nil, fmt.Errorf("%w: %w: got 0x%08x, want 0x%08x", ErrCorrupt, ErrChecksum, sum, header.Checksum)
	}

	raw, err := c.Decompress(payload, int(header.RawSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	buf := &summary.Buffer{
		SampleLen: int64(header.SampleLen),
		Fine:      decodeFrames(raw[:int(header.FineCount)*frameSize]),
		Coarse:    decodeFrames(raw[int(header.FineCount)*frameSize:]),
		Global: summary.Frame{
			Min: header.GlobalMin,
			Max: header.GlobalMax,
			RMS: header.GlobalRMS,
		},
	}
	return buf, nil
}

func encodeFrames(buf *summary.Buffer) []byte {
	out := bytes.NewBuffer(make([]byte, 0, (len(buf.Fine)+len(buf.Coarse))*frameSize))
	// binary.Write on a []Frame slice never fails against a bytes.Buffer.
	binary.Write(out, binary.LittleEndian, buf.Fine)
	binary.Write(out, binary.LittleEndian, buf.Coarse)
	return out.Bytes()
}

func decodeFrames(raw []byte) []summary.Frame {
	frames := make([]summary.Frame, len(raw)/frameSize)
	if len(frames) > 0 {
		binary.Read(bytes.NewReader(raw), binary.LittleEndian, frames)
	}
	return frames
}

func syncDir(fsys fs.FileSystem, dir string) error {
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
