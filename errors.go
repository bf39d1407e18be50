package wavecache

import (
	"errors"
	"fmt"
	"os"

	"github.com/wavecache/wavecache/persistence"
)

var (
	// ErrClosed is returned when an operation runs against a closed cache.
	ErrClosed = errors.New("cache closed")

	// ErrReconstruction indicates a saved record referenced a summary cache
	// file that is missing or unreadable. The block is rebuilt without its
	// summary and re-enters the computation queue; the error is reported
	// through logs and metrics, never to the load caller.
	ErrReconstruction = errors.New("summary reconstruction required")
)

// needsReconstruction reports whether a summary cache-file read failed in a
// recoverable way: the file vanished or its content fails validation. Other
// errors (permissions, IO) propagate to the caller.
func needsReconstruction(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, persistence.ErrCorrupt)
}

// reconstructionError wraps a recoverable cache-file read failure for
// logging.
func reconstructionError(cacheFile string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrReconstruction, cacheFile, cause)
}
