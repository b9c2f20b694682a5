package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a text logger on stderr, teed into any extra writers (for
// example the web log buffer).
func New(level slog.Level, extra ...io.Writer) *slog.Logger {
	var out io.Writer = os.Stderr
	if len(extra) > 0 {
		ws := append([]io.Writer{os.Stderr}, extra...)
		out = io.MultiWriter(ws...)
	}
	return NewLogger(level, out)
}

func NewLogger(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard is used where a component was built without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

// ParseLevel accepts debug, info, warn or error (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
