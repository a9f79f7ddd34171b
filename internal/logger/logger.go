package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.DebugLevel)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Setup configures the level and output format ("json" or "text")
func Setup(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// Debug logs a debug message with consistent fields
// Fields: actor=... action=... details=...
func Debug(actor, action, details string) {
	entry(actor, action, details).Debug(action)
}

// Info logs an operational event that should be visible at the default level
func Info(actor, action, details string) {
	entry(actor, action, details).Info(action)
}

// Error logs a failed action together with its error
func Error(actor, action string, err error) {
	entry(actor, action, "").WithError(err).Error(action)
}

func entry(actor, action, details string) *logrus.Entry {
	fields := logrus.Fields{
		"actor":  actor,
		"action": action,
	}
	if details != "" {
		fields["details"] = details
	}
	return log.WithFields(fields)
}
