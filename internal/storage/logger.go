package storage

import "github.com/tphakala/migration-assistant/internal/logger"

// GetLogger returns the storage package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("storage")
}
