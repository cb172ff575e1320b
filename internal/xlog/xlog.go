// Package xlog is the ambient structured logger used when a caller does not
// supply their own error callback. Every subsystem routes unexpected,
// non-fatal failures (coordination errors, probe errors that aren't
// cancellation noise) through here as a last resort.
package xlog

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the minimal structured-logging surface the kernel depends on.
// Kept narrow on purpose: subsystems only ever log a handful of lifecycle
// and error events, never a full application log.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithError(err error) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

func newLogrusLogger() *logrusLogger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stderr)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(field string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(field, value)}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

var (
	def     Logger
	defLock sync.Mutex
)

// Default returns the process-wide fallback logger, writing to stderr.
func Default() Logger {
	defLock.Lock()
	defer defLock.Unlock()
	if def == nil {
		def = newLogrusLogger()
	}
	return def
}

// SetOutput redirects the default logger's output; primarily for tests that
// want to assert on emitted log lines instead of polluting stderr.
func SetOutput(w io.Writer) {
	defLock.Lock()
	defer defLock.Unlock()
	if def == nil {
		def = newLogrusLogger()
	}
	if l, ok := def.(*logrusLogger); ok {
		l.entry.Logger.SetOutput(w)
	}
}

// FileRotation configures the optional rotating-file destination for the
// default logger. A long-running process embedding this module alongside
// its own log file can point subsystem errors there instead of stderr.
type FileRotation struct {
	// Path is the log file's location. Required.
	Path string
	// MaxSizeMB is the size a file can reach before it is rotated. Defaults
	// to 100 if zero.
	MaxSizeMB int
	// MaxBackups is the number of rotated files retained. 0 keeps all.
	MaxBackups int
	// MaxAgeDays is how long to retain rotated files. 0 disables
	// age-based cleanup.
	MaxAgeDays int
}

// SetFileRotation redirects the default logger to a lumberjack-managed
// rotating file, writing to stderr as well.
func SetFileRotation(r FileRotation) {
	maxSize := r.MaxSizeMB
	if maxSize == 0 {
		maxSize = 100
	}
	rotator := &lumberjack.Logger{
		Filename:   r.Path,
		MaxSize:    maxSize,
		MaxBackups: r.MaxBackups,
		MaxAge:     r.MaxAgeDays,
	}
	SetOutput(io.MultiWriter(os.Stderr, rotator))
}
