// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a tint logger writing to w. Verbose forces debug level and
// source locations.
func New(w io.Writer, level string, color, verbose bool) *slog.Logger {
	lvl := ParseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
		AddSource:  verbose,
		NoColor:    !color,
	})
	return slog.New(handler)
}

// Setup builds the logger and installs it as the slog default.
func Setup(w io.Writer, level string, color, verbose bool) *slog.Logger {
	logger := New(w, level, color, verbose)
	slog.SetDefault(logger)
	return logger
}
