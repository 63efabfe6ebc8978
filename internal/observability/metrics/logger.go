// Package metrics provides the Prometheus collectors of the migration assistant.
package metrics

import "github.com/tphakala/migration-assistant/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("metrics")
