// Package logging builds the shared structured logger used by the CLI
// and every component below it.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON-handler logger, or a text handler with debug level
// enabled when verbose is set.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	if verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
