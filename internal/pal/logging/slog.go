// Package logging provides the package-level structured logger shared by
// every PAL subsystem (allocators, handle table, scheduler). It follows
// the same shape as the host application's operational logger: a single
// atomically-swappable *slog.Logger behind a level var, so tests and
// embedders can redirect or quiet it without threading a logger through
// every constructor.
package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	opLogger.Store(slog.New(handler))
}

// Op returns the package-level logger used for host-memory, scheduler,
// audit and stats-publisher diagnostics (allocation created, worker
// ready, failed Complete, dropped or failed audit and stats writes).
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetLogger replaces the package-level logger. Intended for tests and
// for embedders that want PAL's diagnostics routed into their own
// handler.
func SetLogger(l *slog.Logger) {
	opLogger.Store(l)
}

// SetLevel changes the log level for the operational logger.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString sets the log level from a string ("debug", "info",
// "warn", "error"); unrecognized values are ignored.
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR":
		logLevel.Set(slog.LevelError)
	}
}
