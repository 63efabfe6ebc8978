package dbmigration

import "github.com/tphakala/migration-assistant/internal/logger"

// GetLogger returns the dbmigration package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("dbmigration")
}
