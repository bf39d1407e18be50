// Package registry is the directory collaborator: it assigns cache-file
// identities under the cache root, tracks how many block files share each
// cache file, and removes a file exactly once when its last reference goes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/wavecache/wavecache/internal/fs"
)

// CacheFileExt is the summary cache-file suffix.
const CacheFileExt = ".wsum"

// ErrNotRegistered is returned when releasing a cache file with no
// registered references.
var ErrNotRegistered = errors.New("cache file not registered")

// Registry tracks cache files under one root directory.
type Registry struct {
	fsys   fs.FileSystem
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	counts map[string]int
	nextID uint64
}

// New opens (creating if needed) a registry rooted at dir.
func New(fsys fs.FileSystem, dir string, logger *slog.Logger) (*Registry, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Registry{
		fsys:   fsys,
		dir:    dir,
		logger: logger,
		counts: make(map[string]int),
		nextID: 1,
	}, nil
}

// Dir returns the cache root directory.
func (r *Registry) Dir() string { return r.dir }

// Path resolves a cache-file name to its filesystem path.
func (r *Registry) Path(name string) string {
	return filepath.Join(r.dir, name)
}

// NextBlockID returns a fresh block identity.
func (r *Registry) NextBlockID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// AssignCacheFile returns a fresh, unique cache-file name with one
// registered reference.
func (r *Registry) AssignCacheFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := fmt.Sprintf("%016x%s", r.nextID, CacheFileExt)
	r.nextID++
	r.counts[name] = 1
	return name
}

// RegisterBlock adds one reference to an existing cache-file name. Used when
// a copy shares an available summary and when reconstructing saved records.
func (r *Registry) RegisterBlock(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name]++

	// Keep the ID counter ahead of names loaded from saved projects so
	// fresh assignments never collide.
	if id, err := strconv.ParseUint(strings.TrimSuffix(name, CacheFileExt), 16, 64); err == nil && id >= r.nextID {
		r.nextID = id + 1
	}
}

// Unregister backs out one registered reference to name without touching
// the file on disk. Used to roll back a registration whose owning block was
// never constructed.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.counts[name]; n > 1 {
		r.counts[name] = n - 1
	} else {
		delete(r.counts, name)
	}
}

// Refs returns the current reference count of a cache-file name.
func (r *Registry) Refs(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

// ReleaseBlock drops one reference to name. The last release removes the
// file from disk; a cache file whose summary was never written is simply
// forgotten.
func (r *Registry) ReleaseBlock(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	n, ok := r.counts[name]
	if !ok || n <= 0 {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	n--
	if n > 0 {
		r.counts[name] = n
		r.mu.Unlock()
		return false, nil
	}
	delete(r.counts, name)
	r.mu.Unlock()

	if err := r.fsys.Remove(r.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	r.logger.Debug("cache file removed", "cache_file", name)
	return true, nil
}

// Rename migrates a cache file to a new name, e.g. during a save-as
// directory consolidation. The reference count moves with it. A file that
// was never written (summary still pending) renames in the registry only.
func (r *Registry) Rename(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.counts[oldName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, oldName)
	}
	if err := r.fsys.Rename(r.Path(oldName), r.Path(newName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	delete(r.counts, oldName)
	r.counts[newName] = n
	return nil
}
