package finalsync

import "github.com/tphakala/migration-assistant/internal/logger"

// GetLogger returns the logger of the final sync module.
func GetLogger() logger.Logger {
	return logger.Global().Module("finalsync")
}
