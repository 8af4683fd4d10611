// Package log defines the leveled logging contract used across the engine and
// its zap-backed production implementation. Components accept the Logger
// interface so tests can run silent.
package log

// Logger is the logging interface threaded through component constructors.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	// With returns a child logger carrying additional key-value context.
	With(args ...any) Logger

	// Sync flushes any buffered log entries.
	Sync() error
}
