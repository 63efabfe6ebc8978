package remote

import "github.com/tphakala/migration-assistant/internal/logger"

// GetLogger returns the remote package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("remote")
}
