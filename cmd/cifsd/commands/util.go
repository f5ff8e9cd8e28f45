package commands

import (
	"github.com/opencifsd/cifsd/internal/config"
	"github.com/opencifsd/cifsd/internal/logger"
)

// initLogger wires the structured logger from the loaded configuration.
func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}
