// Package log is the process-wide structured logger. Callers pass a message
// followed by alternating key/value pairs:
//
//	log.Info("Scan completed", "network", cidr, "found", n)
package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/paularlott/logger"
	logzerolog "github.com/paularlott/logger/zerolog"
)

var (
	mu     sync.RWMutex
	out    io.Writer = os.Stderr
	format           = "console"
	level            = "info"
	root             = build()
)

// Configure sets the level (trace, debug, info, warn, error) and the output
// format (console, json) for all subsequent log calls.
func Configure(lvl, f string) {
	ConfigureWriter(os.Stderr, lvl, f)
}

// ConfigureWriter is Configure with an explicit destination.
func ConfigureWriter(w io.Writer, lvl, f string) {
	mu.Lock()
	defer mu.Unlock()
	out, level, format = w, parseLevel(lvl), parseFormat(f)
	root = build()
}

// SetDebug forces debug level while keeping the current writer and format.
func SetDebug(debug bool) {
	if !debug {
		return
	}

	mu.Lock()
	defer mu.Unlock()
	level = "debug"
	root = build()
}

// Use replaces the backend, e.g. with a capturing logger in tests.
func Use(l logger.Logger) {
	if l == nil {
		l = logger.NewNullLogger()
	}
	mu.Lock()
	root = l
	mu.Unlock()
}

// Logger returns the current backend for components that take a
// logger.Logger.
func Logger() logger.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

func Trace(msg string, keysAndValues ...any) { Logger().Trace(msg, keysAndValues...) }
func Debug(msg string, keysAndValues ...any) { Logger().Debug(msg, keysAndValues...) }
func Info(msg string, keysAndValues ...any)  { Logger().Info(msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...any)  { Logger().Warn(msg, keysAndValues...) }
func Error(msg string, keysAndValues ...any) { Logger().Error(msg, keysAndValues...) }

// build must be called with mu held for writing, or during init.
func build() logger.Logger {
	return logzerolog.New(logzerolog.Config{
		Level:  level,
		Format: format,
		Writer: out,
	})
}

func parseLevel(lvl string) string {
	switch l := strings.ToLower(strings.TrimSpace(lvl)); l {
	case "trace", "debug", "info", "warn", "error":
		return l
	case "warning":
		return "warn"
	default:
		return "info"
	}
}

func parseFormat(f string) string {
	if strings.EqualFold(strings.TrimSpace(f), "json") {
		return "json"
	}
	return "console"
}
