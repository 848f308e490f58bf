package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with contextual fields
type Logger struct {
	*slog.Logger
}

// New creates a new logger
func New(level, format string) *Logger {
	var handler slog.Handler

	logLevel := parseLevel(level)

	switch format {
	case "json":
		opts := &slog.HandlerOptions{
			Level: logLevel,
		}
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		// Use tint for colored console output during development
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
			AddSource:  false,
		})
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{
		Logger: l.With(args...),
	}
}

// WithChangesetID adds changeset_id to logger context
func (l *Logger) WithChangesetID(id int64) *Logger {
	return &Logger{
		Logger: l.With("changeset_id", id),
	}
}

// WithActor adds actor to logger context
func (l *Logger) WithActor(actor string) *Logger {
	return &Logger{
		Logger: l.With("actor", actor),
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
