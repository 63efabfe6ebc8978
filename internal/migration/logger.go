package migration

import "github.com/tphakala/migration-assistant/internal/logger"

// GetLogger returns the migration package logger scoped to the migration module.
func GetLogger() logger.Logger {
	return logger.Global().Module("migration")
}
