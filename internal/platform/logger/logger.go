package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON output so log shippers
// can index fields without parsing.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
