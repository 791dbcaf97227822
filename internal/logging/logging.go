// Package logging builds the single structured logger threaded through the
// gateway's composition root, matching the teacher's internal/mw/*.go files
// which all take a *slog.Logger and log with slog.String/slog.Int fields.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON-handler slog.Logger writing to stdout at Info level.
func New() *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// NewWithLevel returns a logger at the given level, used by tests and by
// -debug-style startup flags.
func NewWithLevel(level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}
