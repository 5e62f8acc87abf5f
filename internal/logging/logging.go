package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the process-wide slog.Logger. Level is one of
// debug|info|warn|error; anything else falls back to info.
func New(levelStr string) *slog.Logger {
	level := parseLevel(levelStr)
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	return slog.New(handler)
}

func parseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
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
