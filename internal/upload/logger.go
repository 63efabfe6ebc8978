package upload

import "github.com/tphakala/migration-assistant/internal/logger"

// GetLogger returns the upload package logger. The "upload" module is routed
// to its own log file by default.
func GetLogger() logger.Logger {
	return logger.Global().Module("upload")
}
