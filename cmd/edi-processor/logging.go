package main

import (
	"log/slog"
	"os"
	"strings"
)

// buildLogger wires a slog handler for the requested level and format and
// stamps every record with the process identity. Unknown levels fall back
// to info rather than failing startup.
func buildLogger(level, format string) *slog.Logger {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lv, AddSource: lv == slog.LevelDebug}

	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h).With(
		slog.String("service", appName),
		slog.String("version", Version),
		slog.Int("pid", os.Getpid()),
	)
}
