package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/statarb/internal/config"
)

// New builds the process logger. An invalid level falls back to info and is
// reported once the logger exists.
func New(cfg config.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	switch cfg.Format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger, nil
}
