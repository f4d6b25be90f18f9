// Package logging provides the structured logger shared by every Sentinel
// component.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide default logger.
var Logger *logrus.Logger

func init() {
	Logger = New("info")
}

// New creates a configured logger writing JSON lines to stderr, matching
// the GVCP proxy's "logs to standard error at configured debug level"
// requirement.
func New(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	SetLevel(logger, level)
	return logger
}

// SetLevel applies a named level ("debug", "info", "warn", "error") to
// logger, defaulting to Info for anything unrecognised.
func SetLevel(logger *logrus.Logger, level string) {
	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
}

// Component returns a child logger tagged with the given component name,
// e.g. logging.Component(logging.Logger, "engine").
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}
