package log

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

var debug bool

// Logger is a global interface for sequencer loggers
type Logger interface {
	Debug(...interface{})
	Info(...interface{})
	Warn(...interface{})
}

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv("SEQUENCER_DEBUG"))
	if err != nil {
		debug = false
	}
}

// GetLogger returns a new logger instance
func GetLogger() *logrus.Logger {
	l := logrus.New()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// SetDebug returns logger with debug level switched according to provided
// flag. Loggers other than logrus are returned as is.
func SetDebug(l Logger, enabled bool) Logger {
	if lg, ok := l.(*logrus.Logger); ok && enabled {
		lg.SetLevel(logrus.DebugLevel)
	}
	return l
}

// With returns logger with component fields attached. Loggers other than
// logrus are returned as is.
func With(l Logger, fields map[string]interface{}) Logger {
	switch lg := l.(type) {
	case *logrus.Logger:
		return lg.WithFields(logrus.Fields(fields))
	case *logrus.Entry:
		return lg.WithFields(logrus.Fields(fields))
	}
	return l
}

// Silent returns logger which discards everything.
func Silent() Logger {
	return silentLogger{}
}

type silentLogger struct{}

func (silentLogger) Debug(args ...interface{}) {}

func (silentLogger) Info(args ...interface{}) {}

func (silentLogger) Warn(args ...interface{}) {}
