package awsclient

import "github.com/tphakala/migration-assistant/internal/logger"

// GetLogger returns the awsclient package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("aws")
}
