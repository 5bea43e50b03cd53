// v2
// internal/logging/logger.go
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Init configures slog to log to both stdout and LOG_DIR/farmtech.log.
// It returns the *slog.Logger and the opened *os.File so callers can Close() on shutdown.
// When the file cannot be opened the logger falls back to stdout and the returned file is nil.
func Init(level string) (*slog.Logger, *os.File) {
	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "./logs"
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		lg := slog.New(slog.NewTextHandler(os.Stdout, opts))
		lg.Error("cannot create log dir; falling back to stdout only", "dir", logDir, "error", err)
		return lg, nil
	}

	fp := filepath.Join(logDir, "farmtech.log")
	f, err := os.OpenFile(fp, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		lg := slog.New(slog.NewTextHandler(os.Stdout, opts))
		lg.Error("failed to open log file; falling back to stdout only", "path", fp, "error", err)
		return lg, nil
	}

	mw := io.MultiWriter(f, os.Stdout)
	lg := slog.New(slog.NewTextHandler(mw, opts))
	// make legacy stdlib log align to our multi-writer too
	log.SetOutput(mw)
	lg.Info("logger initialized", "file", fp, "level", opts.Level)
	return lg, f
}

// FileOnly rebuilds the logger on the log file alone, for when stdout is taken by the
// terminal panel. The stdlib log package follows it.
func FileOnly(f *os.File, level string) *slog.Logger {
	lg := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: ParseLevel(level)}))
	log.SetOutput(f)
	return lg
}

// ParseLevel maps LOG_LEVEL style strings to slog levels. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Discard returns a logger that drops everything. Used by tests and by components
// constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Component tags a logger with the component attribute used across the controller.
func Component(lg *slog.Logger, name string) *slog.Logger {
	if lg == nil {
		lg = Discard()
	}
	return lg.With(slog.String("component", name))
}
