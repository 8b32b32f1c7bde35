package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// slog has no trace level; Watermill maps trace below debug.
var slogLevels = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlogServiceLogger wraps a slog.Logger so it satisfies the ServiceLogger
// interface.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("phaseflow: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLoggerWithLevelMapping(log, slogLevels))
}

// NewWatermillServiceLogger wraps an existing Watermill LoggerAdapter. An
// adapter obtained from NewWatermillAdapter is unwrapped to its ServiceLogger.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("phaseflow: watermill logger cannot be nil")
	}
	if bridged, ok := logger.(*watermillBridge); ok {
		return bridged.log
	}
	return &watermillServiceLogger{inner: logger}
}

// NewWatermillAdapter converts a ServiceLogger into a Watermill LoggerAdapter so
// pub/sub backends log through the bus logger. A ServiceLogger that already
// wraps a Watermill adapter hands that adapter back.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("phaseflow: ServiceLogger cannot be nil")
	}
	if wrapped, ok := log.(*watermillServiceLogger); ok {
		return wrapped.inner
	}
	return &watermillBridge{log: log}
}

type watermillServiceLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return w
	}
	return &watermillServiceLogger{inner: w.inner.With(watermill.LogFields(fields))}
}

func (w *watermillServiceLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, toWatermillFields(fields))
}

type watermillBridge struct {
	log ServiceLogger
}

func (b *watermillBridge) Error(msg string, err error, fields watermill.LogFields) {
	b.log.Error(msg, err, fromWatermillFields(fields))
}

func (b *watermillBridge) Info(msg string, fields watermill.LogFields) {
	b.log.Info(msg, fromWatermillFields(fields))
}

func (b *watermillBridge) Debug(msg string, fields watermill.LogFields) {
	b.log.Debug(msg, fromWatermillFields(fields))
}

func (b *watermillBridge) Trace(msg string, fields watermill.LogFields) {
	b.log.Trace(msg, fromWatermillFields(fields))
}

func (b *watermillBridge) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillBridge{log: b.log.With(fromWatermillFields(fields))}
}

func toWatermillFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermillFields(fields watermill.LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	return LogFields(fields)
}

// EntryLogger is the non-generic form of EntryLoggerAdapter.
type EntryLogger interface {
	EntryLoggerAdapter[EntryLogger]
}

// EntryLoggerAdapter captures what NewEntryServiceLogger needs from an
// entry-style logger such as a logrus.Entry. The type parameter lets loggers
// whose methods return their own concrete type be used without a wrapper.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

// NewEntryServiceLogger wraps an entry-style logger. Fields given to With are
// kept on the ServiceLogger and applied to the entry when something is logged.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if any(entry) == nil {
		panic("phaseflow: entry logger cannot be nil")
	}
	return &entryServiceLogger[T]{entry: entry}
}

type entryServiceLogger[T EntryLoggerAdapter[T]] struct {
	entry  T
	fields LogFields
}

func (e *entryServiceLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return e
	}
	return &entryServiceLogger[T]{entry: e.entry, fields: e.fields.Merge(fields)}
}

func (e *entryServiceLogger[T]) at(fields LogFields) T {
	return applyEntryFields(e.entry, e.fields.Merge(fields))
}

func (e *entryServiceLogger[T]) Debug(msg string, fields LogFields) { e.at(fields).Debug(msg) }
func (e *entryServiceLogger[T]) Info(msg string, fields LogFields)  { e.at(fields).Info(msg) }
func (e *entryServiceLogger[T]) Trace(msg string, fields LogFields) { e.at(fields).Trace(msg) }

func (e *entryServiceLogger[T]) Error(msg string, err error, fields LogFields) {
	entry := e.at(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func applyEntryFields[T EntryLoggerAdapter[T]](entry T, fields LogFields) T {
	if any(entry) == nil {
		return entry
	}
	for key, value := range fields {
		entry = entry.WithField(key, value)
	}
	return entry
}
