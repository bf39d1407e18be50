package wavecache

import (
	"log/slog"
	"time"

	"github.com/wavecache/wavecache/blobstore"
	"github.com/wavecache/wavecache/codec"
	"github.com/wavecache/wavecache/internal/fs"
)

type options struct {
	codec            codec.Codec
	fsys             fs.FileSystem
	aliasStore       blobstore.Store
	metricsCollector MetricsCollector
	logger           *Logger
	maxWorkers       int64
	ioLimitBytes     int64
	retryDelay       time.Duration
}

// Option configures Cache constructor behavior.
type Option func(*options)

// WithCodec configures the codec used for summary cache files.
//
// If nil is passed, codec.Default is used. Files written with a different
// codec remain readable; the codec only affects new writes.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithFileSystem configures the file system used for summary cache files
// and project files. Intended for fault-injection tests.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys == nil {
			fsys = fs.Default
		}
		o.fsys = fsys
	}
}

// WithAliasStore configures where aliased audio files are read from. The
// default resolves paths on the local file system; pass a minio or s3
// backed store to summarize remote media.
func WithAliasStore(store blobstore.Store) Option {
	return func(o *options) {
		o.aliasStore = store
	}
}

// WithMaxWorkers configures the number of concurrent background summary
// computations. Defaults to 1.
func WithMaxWorkers(n int64) Option {
	return func(o *options) {
		o.maxWorkers = n
	}
}

// WithIORateLimit throttles background decode throughput to the given
// bytes per second across all workers, so summarization never starves
// playback of disk bandwidth. 0 means unlimited.
func WithIORateLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimitBytes = bytesPerSec
	}
}

// WithRetryDelay configures the pause before a failed summary computation
// is requeued. Defaults to one second.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		o.retryDelay = d
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		fsys:             fs.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		maxWorkers:       1,
		retryDelay:       time.Second,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
