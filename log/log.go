// Package log creates the loggers shared by pipeline elements.
package log

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// level of loggers created by GetLogger. SONGPIPE_LOG_LEVEL takes
// precedence over SONGPIPE_DEBUG.
var level = logrus.InfoLevel

func init() {
	if debug, err := strconv.ParseBool(os.Getenv("SONGPIPE_DEBUG")); err == nil && debug {
		level = logrus.DebugLevel
	}
	if l, err := logrus.ParseLevel(os.Getenv("SONGPIPE_LOG_LEVEL")); err == nil {
		level = l
	}
}

// GetLogger returns a new logger instance
func GetLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(level)
	return l
}

// ForComponent returns an entry tagged with component name and id. A nil
// logger is replaced with a new one.
func ForComponent(l *logrus.Logger, component, id string) *logrus.Entry {
	if l == nil {
		l = GetLogger()
	}
	return l.WithFields(logrus.Fields{
		"component": component,
		"id":        id,
	})
}
