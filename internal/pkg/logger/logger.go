// internal/pkg/logger/logger.go
package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-cart/internal/config"
)

// New builds the application logger from the logging configuration
func New(cfg *config.Config) *logrus.Logger {
	return NewWithWriter(cfg.Logging, os.Stdout)
}

// NewWithWriter builds a logger writing to w
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)

	// Set log format based on config
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// Discard returns a logger that drops everything, for tests and quiet CLI runs
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
