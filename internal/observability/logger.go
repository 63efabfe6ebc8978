// Package observability exposes the Prometheus metrics of the migration assistant.
package observability

import "github.com/tphakala/migration-assistant/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("observability")
