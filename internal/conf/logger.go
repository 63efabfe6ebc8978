// Package conf loads and validates the migration assistant configuration.
package conf

import "github.com/tphakala/migration-assistant/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
