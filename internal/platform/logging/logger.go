package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns the process-wide logger writing text lines to stdout.
// Unrecognized levels fall back to info so a typo in LOG_LEVEL never
// silences the server.
func New(level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(level string) slog.Level {
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
