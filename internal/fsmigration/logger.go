package fsmigration

import "github.com/tphakala/migration-assistant/internal/logger"

// GetLogger returns the logger of the filesystem migration module.
func GetLogger() logger.Logger {
	return logger.Global().Module("fsmigration")
}
