package main

import (
	"log/slog"
	"os"

	"github.com/aminsaiful/simplemux-go/internal/logging"
)

// debugLevelToSlog maps spec.md §6.4's 0-3 debug_level scale onto slog's
// levels: 0 is quiet (warnings and up), 3 is the most verbose.
func debugLevelToSlog(level int) slog.Level {
	switch level {
	case 0:
		return slog.LevelWarn
	case 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func setupLogger(format string, debugLevel int) *slog.Logger {
	l := logging.New(format, debugLevelToSlog(debugLevel), os.Stderr).With("app", "simplemux")
	logging.Set(l)
	return l
}
