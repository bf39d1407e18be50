package wavecache

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with wavecache-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithBlockID adds a block_id field to the logger.
func (l *Logger) WithBlockID(id uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("block_id", id),
	}
}

// LogNewBlock logs the creation of an on-demand block.
func (l *Logger) LogNewBlock(ctx context.Context, id uint64, path string, samples int64) {
	l.DebugContext(ctx, "block created",
		"block_id", id,
		"aliased_file", path,
		"samples", samples,
	)
}

// LogSave logs a project save operation.
func (l *Logger) LogSave(ctx context.Context, filename string, blocks, pending int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "project save failed",
			"filename", filename,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "project saved",
			"filename", filename,
			"blocks", blocks,
			"pending", pending,
		)
	}
}

// LogLoad logs a project load operation.
func (l *Logger) LogLoad(ctx context.Context, filename string, blocks, rescheduled int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "project load failed",
			"filename", filename,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "project loaded",
			"filename", filename,
			"blocks", blocks,
			"rescheduled", rescheduled,
		)
	}
}

// LogRelease logs the destruction of a block.
func (l *Logger) LogRelease(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "block release failed",
			"block_id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "block released",
			"block_id", id,
		)
	}
}
