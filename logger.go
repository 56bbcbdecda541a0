package tracker

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the structured logging surface used across the fetch core.
// keyvals alternate between string keys and values.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

// slogLogger adapts *slog.Logger to Logger.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return slogLogger{l: l}
}

// NewSimpleLogger writes human-readable lines at the given level to w. A nil
// w writes to stderr.
func NewSimpleLogger(w io.Writer, level slog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	return NewSlogLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func (s slogLogger) Debug(msg string, keyvals ...any) { s.l.Debug(msg, keyvals...) }
func (s slogLogger) Info(msg string, keyvals ...any)  { s.l.Info(msg, keyvals...) }
func (s slogLogger) Warn(msg string, keyvals ...any)  { s.l.Warn(msg, keyvals...) }
func (s slogLogger) Error(msg string, keyvals ...any) { s.l.Error(msg, keyvals...) }

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return NopLogger
	}
	return l
}
