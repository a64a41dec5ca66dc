package filestore

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with filestore-specific context. This
// provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler. If handler is
// nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger creates a Logger that discards all log output. Use this to
// disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})

	return &Logger{Logger: slog.New(handler)}
}

// WithBackend adds a backend field to the logger.
func (l *Logger) WithBackend(backend BackendType) *Logger {
	return &Logger{Logger: l.Logger.With("backend", backend.String())}
}

// WithPath adds a path field to the logger.
func (l *Logger) WithPath(path ObjectPath) *Logger {
	return &Logger{Logger: l.Logger.With("path", path.String())}
}

// LogFSCall logs one local file system call.
func (l *Logger) LogFSCall(ctx context.Context, op, target string, err error) {
	if err != nil {
		l.DebugContext(ctx, "fs call failed",
			"op", op,
			"target", target,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "fs call completed",
			"op", op,
			"target", target,
		)
	}
}

// LogAPICall logs one remote API call.
func (l *Logger) LogAPICall(ctx context.Context, method string, status int, err error) {
	if err != nil {
		l.DebugContext(ctx, "api call failed",
			"method", method,
			"status", status,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "api call completed",
			"method", method,
			"status", status,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, path ObjectPath, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"path", path.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"path", path.String(),
		)
	}
}

// LogWrite logs a write operation.
func (l *Logger) LogWrite(ctx context.Context, path ObjectPath, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "write failed",
			"path", path.String(),
			"bytes", bytes,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "write completed",
			"path", path.String(),
			"bytes", bytes,
		)
	}
}
