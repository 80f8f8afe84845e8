// Package logging provides structured logging for the Plexa backend.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	global *logrus.Logger
	once   sync.Once
)

// Init initializes the global logger. The first call wins; later calls
// are no-ops so packages can log safely before main wires things up.
func Init(out io.Writer, level string) {
	once.Do(func() {
		global = newLogger(out, level)
	})
}

// Get returns the global logger instance.
func Get() *logrus.Logger {
	if global == nil {
		Init(os.Stdout, "info")
	}
	return global
}

func newLogger(out io.Writer, level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	return l
}

// Convenience functions using the global logger. Context maps become
// structured fields on the entry.

func Debug(message string, context ...map[string]interface{}) {
	Get().WithFields(fields(context...)).Debug(message)
}

func Info(message string, context ...map[string]interface{}) {
	Get().WithFields(fields(context...)).Info(message)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().WithFields(fields(context...)).Warn(message)
}

func Error(message string, err error, context ...map[string]interface{}) {
	entry := Get().WithFields(fields(context...))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}

// fields merges context maps into logrus fields.
func fields(context ...map[string]interface{}) logrus.Fields {
	if len(context) == 0 {
		return logrus.Fields{}
	}
	merged := make(logrus.Fields)
	for _, c := range context {
		for k, v := range c {
			merged[k] = v
		}
	}
	return merged
}
