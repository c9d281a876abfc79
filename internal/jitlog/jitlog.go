// Package jitlog centralizes structured logging for the compiler, cache and
// code generator. Every component takes a *zap.Logger at construction; the
// zero value returned by Nop is silent, so embedding microjit costs nothing
// unless a caller opts in via microjit.Config.WithLogger.
package jitlog

import "go.uber.org/zap"

// Nop returns a logger that discards everything, used as the default so the
// library stays silent unless a caller asks for diagnostics.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Named returns a child logger scoped to one of the fixed component names used
// across microjit, so log lines can be filtered by subsystem.
func Named(base *zap.Logger, component string) *zap.Logger {
	if base == nil {
		base = Nop()
	}
	return base.Named(component)
}
