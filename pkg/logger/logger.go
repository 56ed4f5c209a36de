package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewDefaultLogger creates a colored logger writing to stderr.
func NewDefaultLogger(level slog.Level) *slog.Logger {
	return NewLogger(os.Stderr, level)
}

// NewLogger creates a colored logger writing to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewColorHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// ParseLevel converts a configured level name (debug, info, warn, error)
// to an slog.Level. An empty name is info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}
