// Package logging defines the ServiceLogger contract every phaseflow component
// logs through, plus adapters for slog, Watermill and entry-style loggers.
package logging

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// Merge returns a new LogFields holding f overlaid with other. Neither input
// is modified.
func (f LogFields) Merge(other LogFields) LogFields {
	switch {
	case len(other) == 0:
		return f
	case len(f) == 0:
		return other
	}
	merged := make(LogFields, len(f)+len(other))
	for k, v := range f {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// ServiceLogger is the logging contract used by the bus, chains, transports and
// observers. It maps directly onto Watermill's logging needs so the same logger
// can be handed to the pub/sub backends.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// NopLogger returns a ServiceLogger that discards everything. Components fall
// back to it when constructed without a logger.
func NopLogger() ServiceLogger {
	return nopLogger{}
}

type nopLogger struct{}

func (n nopLogger) With(LogFields) ServiceLogger { return n }
func (nopLogger) Debug(string, LogFields)        {}
func (nopLogger) Info(string, LogFields)         {}
func (nopLogger) Error(string, error, LogFields) {}
func (nopLogger) Trace(string, LogFields)        {}

// OrNop returns log, or a NopLogger when log is nil.
func OrNop(log ServiceLogger) ServiceLogger {
	if log == nil {
		return nopLogger{}
	}
	return log
}

// Component scopes log with a component field.
func Component(log ServiceLogger, name string) ServiceLogger {
	return OrNop(log).With(LogFields{"component": name})
}
