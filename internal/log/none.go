package log

// NoneLogger discards everything. It is the default when a component is
// constructed without a logger, and keeps tests quiet.
type NoneLogger struct{}

var _ Logger = (*NoneLogger)(nil)

func (NoneLogger) Debugf(string, ...any) {}

func (NoneLogger) Infof(string, ...any) {}

func (NoneLogger) Warnf(string, ...any) {}

func (NoneLogger) Errorf(string, ...any) {}

//nolint:ireturn
func (n NoneLogger) With(...any) Logger { return n }

func (NoneLogger) Sync() error { return nil }

// OrNone returns the given logger, or a NoneLogger when nil.
//
//nolint:ireturn
func OrNone(logger Logger) Logger {
	if logger == nil {
		return NoneLogger{}
	}

	return logger
}
