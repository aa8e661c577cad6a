// Package logging provides the structured logger shared by the serial driver
// packages. It wraps log/slog and tags every record with a component name.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Driver component identifiers.
const (
	ComponentUnit     Component = "unit"
	ComponentWorker   Component = "worker"
	ComponentDispatch Component = "dispatch"
	ComponentLine     Component = "line"
	ComponentBridge   Component = "bridge"
	ComponentConfig   Component = "config"
)

var (
	defaultLogger *slog.Logger

	level = new(slog.LevelVar)

	mu sync.RWMutex
)

func init() {
	level.Set(slog.LevelWarn)
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// SetLevel sets the minimum level for the default logger.
func SetLevel(l slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	level.Set(l)
}

// Level returns the current minimum level.
func Level() slog.Level {
	mu.RLock()
	defer mu.RUnlock()
	return level.Level()
}

// SetLogger replaces the default logger. A nil logger restores the stderr
// text logger.
func SetLogger(logger *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	defaultLogger = logger
}

// Logger returns the current default logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// New creates a text logger writing to w at the shared level.
func New(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Debug logs a debug message with the given component.
func Debug(c Component, msg string, args ...any) {
	Logger().Debug(msg, append([]any{"component", string(c)}, args...)...)
}

// Info logs an info message with the given component.
func Info(c Component, msg string, args ...any) {
	Logger().Info(msg, append([]any{"component", string(c)}, args...)...)
}

// Warn logs a warning with the given component.
func Warn(c Component, msg string, args ...any) {
	Logger().Warn(msg, append([]any{"component", string(c)}, args...)...)
}

// Error logs an error with the given component.
func Error(c Component, msg string, args ...any) {
	Logger().Error(msg, append([]any{"component", string(c)}, args...)...)
}
