// Package decoder turns raw bytes of an aliased file into float32 samples.
//
// The decoder is the collaborator the block file's read path and the
// background summary worker both rely on. One decoder handle is not safe for
// unrestricted concurrent use against the same file; callers serialize access
// through the block file's decode guard.
package decoder

import (
	"context"
	"errors"
	"fmt"

	"github.com/wavecache/wavecache/model"
)

// ErrDecode indicates the aliased file is missing, truncated, or unreadable.
// Degraded reads surface this to the caller rather than fabricating data.
var ErrDecode = errors.New("decode failure")

// Decoder reads raw samples of one channel from an aliased file.
type Decoder interface {
	// ReadSamples decodes n samples of the given channel starting at the
	// absolute sample index start, into dst (len(dst) >= n).
	ReadSamples(ctx context.Context, ref model.AliasRef, channel int, start, n int64, dst []float32) error
}

func decodeErr(ref model.AliasRef, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDecode, ref.Path, err)
}
