// Package logger provides structured logging with a consistent field set
// across every engine component.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with the engine's field conventions.
type Logger struct {
	*logrus.Logger
}

// Config controls logger construction.
type Config struct {
	Level  string
	Format string
}

// New creates a Logger from explicit configuration.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l}
}

// NewDefault returns an info-level, text-formatted logger. The component
// argument is not attached to the log output. Used by components
// constructed without an explicit configuration (tests, ad-hoc tools).
func NewDefault(component string) *Logger {
	l := New(Config{Level: "info", Format: "text"})
	return &Logger{Logger: l.Logger}
}

// WithField returns a new log entry with a field attached.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a new log entry with multiple fields attached.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithError returns a new log entry carrying the given error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}
