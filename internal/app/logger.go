package app

import "github.com/tphakala/migration-assistant/internal/logger"

// GetLogger returns the app package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}
