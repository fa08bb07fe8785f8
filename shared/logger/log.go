// Package logger provides structured logging for wardend.
//
// The package keeps a single process-wide logger. Call Init early in main to
// pick the verbosity; library packages then log through the package-level
// helpers or through a contextual Logger obtained from AddContext.
package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Ctx is the logging context to attach to a message.
type Ctx map[string]any

// Logger is the main logging interface.
type Logger interface {
	Panic(msg string, ctx ...Ctx)
	Fatal(msg string, ctx ...Ctx)
	Error(msg string, ctx ...Ctx)
	Warn(msg string, ctx ...Ctx)
	Info(msg string, ctx ...Ctx)
	Debug(msg string, ctx ...Ctx)
	Trace(msg string, ctx ...Ctx)
	AddContext(ctx Ctx) Logger
}

// Log contains the logger used by all the logging functions.
var Log Logger = newTargetLogger(defaultBackend())

type targetLogger struct {
	entry *logrus.Entry
}

func defaultBackend() *logrus.Logger {
	backend := logrus.New()
	backend.SetOutput(os.Stderr)
	backend.SetLevel(logrus.InfoLevel)
	backend.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return backend
}

func newTargetLogger(backend *logrus.Logger) Logger {
	return &targetLogger{entry: logrus.NewEntry(backend)}
}

// Init sets up the process logger with the given name and verbosity.
// Verbosity levels above zero enable debug logging, above one trace logging.
func Init(name string, verbosity int) {
	backend := defaultBackend()
	switch {
	case verbosity > 1:
		backend.SetLevel(logrus.TraceLevel)
	case verbosity > 0:
		backend.SetLevel(logrus.DebugLevel)
	}

	Log = newTargetLogger(backend).AddContext(Ctx{"name": name})
}

func (l *targetLogger) withCtx(ctx []Ctx) *logrus.Entry {
	entry := l.entry
	for _, c := range ctx {
		entry = entry.WithFields(logrus.Fields(c))
	}

	return entry
}

// Panic logs a panic level message and panics.
func (l *targetLogger) Panic(msg string, ctx ...Ctx) { l.withCtx(ctx).Panic(msg) }

// Fatal logs a fatal level message and exits.
func (l *targetLogger) Fatal(msg string, ctx ...Ctx) { l.withCtx(ctx).Fatal(msg) }

// Error logs an error level message.
func (l *targetLogger) Error(msg string, ctx ...Ctx) { l.withCtx(ctx).Error(msg) }

// Warn logs a warning level message.
func (l *targetLogger) Warn(msg string, ctx ...Ctx) { l.withCtx(ctx).Warn(msg) }

// Info logs an info level message.
func (l *targetLogger) Info(msg string, ctx ...Ctx) { l.withCtx(ctx).Info(msg) }

// Debug logs a debug level message.
func (l *targetLogger) Debug(msg string, ctx ...Ctx) { l.withCtx(ctx).Debug(msg) }

// Trace logs a trace level message.
func (l *targetLogger) Trace(msg string, ctx ...Ctx) { l.withCtx(ctx).Trace(msg) }

// AddContext returns a new logger with the given context attached to every
// message.
func (l *targetLogger) AddContext(ctx Ctx) Logger {
	return &targetLogger{entry: l.entry.WithFields(logrus.Fields(ctx))}
}

// Panic logs a panic level message through the process logger.
func Panic(msg string, ctx ...Ctx) { Log.Panic(msg, ctx...) }

// Fatal logs a fatal level message through the process logger.
func Fatal(msg string, ctx ...Ctx) { Log.Fatal(msg, ctx...) }

// Error logs an error level message through the process logger.
func Error(msg string, ctx ...Ctx) { Log.Error(msg, ctx...) }

// Warn logs a warning level message through the process logger.
func Warn(msg string, ctx ...Ctx) { Log.Warn(msg, ctx...) }

// Info logs an info level message through the process logger.
func Info(msg string, ctx ...Ctx) { Log.Info(msg, ctx...) }

// Debug logs a debug level message through the process logger.
func Debug(msg string, ctx ...Ctx) { Log.Debug(msg, ctx...) }

// Trace logs a trace level message through the process logger.
func Trace(msg string, ctx ...Ctx) { Log.Trace(msg, ctx...) }

// Panicf logs a formatted panic level message through the process logger.
func Panicf(format string, args ...any) { Log.Panic(fmt.Sprintf(format, args...)) }

// Fatalf logs a formatted fatal level message through the process logger.
func Fatalf(format string, args ...any) { Log.Fatal(fmt.Sprintf(format, args...)) }

// Errorf logs a formatted error level message through the process logger.
func Errorf(format string, args ...any) { Log.Error(fmt.Sprintf(format, args...)) }

// Warnf logs a formatted warning level message through the process logger.
func Warnf(format string, args ...any) { Log.Warn(fmt.Sprintf(format, args...)) }

// Infof logs a formatted info level message through the process logger.
func Infof(format string, args ...any) { Log.Info(fmt.Sprintf(format, args...)) }

// Debugf logs a formatted debug level message through the process logger.
func Debugf(format string, args ...any) { Log.Debug(fmt.Sprintf(format, args...)) }

// Tracef logs a formatted trace level message through the process logger.
func Tracef(format string, args ...any) { Log.Trace(fmt.Sprintf(format, args...)) }
