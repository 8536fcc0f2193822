// internal/infra/logger/logger.go
package logger

import (
	"io"
	"os"

	"workflow_digest/internal/infra/config"

	"github.com/sirupsen/logrus"
)

// New builds the process logger: JSON in production and staging, coloured
// text elsewhere.
func New(cfg *config.AppConfig) *logrus.Logger {
	return NewWithOutput(cfg, os.Stdout)
}

func NewWithOutput(cfg *config.AppConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info'. Error: %v", cfg.LogLevel, err)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00", // ISO8601
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	log.Debugf("Log level set to: %s", log.GetLevel().String())
	return log
}

// Service returns the root entry every component derives its fields from.
func Service(log *logrus.Logger, environment string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"service":     "workflow-digest",
		"environment": environment,
	})
}
