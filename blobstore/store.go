// Package blobstore abstracts read access to aliased media files. Aliased
// files are external and never owned: the cache reads raw samples from them
// but never writes, moves, or deletes them. Stores exist for the local
// filesystem and for S3-compatible object storage, so projects can reference
// media that lives in a bucket.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for opening aliased media blobs.
type Store interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
}

// Blob is a read-only handle to an aliased media file.
type Blob interface {
	io.Closer
	// ReadAt reads len(p) bytes starting at off. Short reads at the end of
	// the blob return io.EOF alongside the bytes read.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// Size returns the size of the blob in bytes.
	Size() int64
}
