package datastore

import (
	"time"

	"github.com/tphakala/migration-assistant/internal/logger"
)

// slowQueryThreshold marks statements logged at warn by the GORM adapter
const slowQueryThreshold = 200 * time.Millisecond

// GetLogger returns the datastore logger scoped to the datastore module.
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}

func newGormLogger() *logger.GormAdapter {
	return logger.NewGormAdapter(GetLogger(), slowQueryThreshold)
}
