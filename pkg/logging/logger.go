package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with application-specific functionality
type Logger struct {
	*slog.Logger
}

// New creates a new logger with the specified level
func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter creates a JSON logger writing to w. Tests use it to capture output.
func NewWithWriter(level string, w io.Writer) *Logger {
	if w == nil {
		w = io.Discard
	}
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	handler := slog.NewJSONHandler(w, opts)
	return &Logger{Logger: slog.New(handler)}
}

// Default returns a logger with default settings
func Default() *Logger {
	return New("info")
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// ParseLevel maps a textual level to slog. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithSession returns a child logger tagged with the session id.
func (l *Logger) WithSession(sessionID string) *Logger {
	if l == nil {
		return Default().WithSession(sessionID)
	}
	return &Logger{Logger: l.Logger.With("session_id", sessionID)}
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	if l == nil {
		return Default().WithComponent(name)
	}
	return &Logger{Logger: l.Logger.With("component", name)}
}
