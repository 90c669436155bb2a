package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the service logger from LOG_LEVEL and LOG_FORMAT (json|color)
func NewLogger() *logrus.Logger {
	log := logrus.New()

	if os.Getenv("LOG_FORMAT") == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(NewColoredJSONFormatter())
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
		if logLevel != "" {
			log.WithFields(logrus.Fields{
				"attempted_level": logLevel,
				"default_level":   "INFO",
			}).Warn("Invalid log level specified, defaulting to INFO")
		}
	}

	return log
}
