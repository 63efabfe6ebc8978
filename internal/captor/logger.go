package captor

import "github.com/tphakala/migration-assistant/internal/logger"

// GetLogger returns the captor package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("captor")
}
