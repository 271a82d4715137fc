// Package logger provides a process-wide structured logger for mcp-gateway.
//
// This is a thin shim over zap that keeps call sites short. New code should
// prefer injecting *zap.Logger directly; use Get when that isn't practical.
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var singleton atomic.Pointer[zap.Logger]

func init() {
	singleton.Store(zap.NewNop())
}

// Initialize installs l as the package-level logger.
func Initialize(l *zap.Logger) {
	singleton.Store(l)
}

// Get returns the current singleton logger.
func Get() *zap.Logger {
	return singleton.Load()
}

// Named returns the singleton logger scoped under name.
func Named(name string) *zap.Logger {
	return get().Named(name)
}

func get() *zap.Logger {
	return singleton.Load()
}

// Sugar returns a SugaredLogger view of the singleton, for printf-style calls.
func Sugar() *zap.SugaredLogger {
	return get().Sugar()
}
