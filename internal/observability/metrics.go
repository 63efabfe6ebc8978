package observability

import (
	"fmt"
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/migration-assistant/internal/observability/metrics"
)

// Metrics holds all the metric collectors, registered on a private registry.
type Metrics struct {
	registry     *prometheus.Registry
	Migration    *metrics.MigrationMetrics
	Upload       *metrics.UploadMetrics
	FinalSync    *metrics.FinalSyncMetrics
	Scheduler    *metrics.SchedulerMetrics
	Notification *metrics.NotificationMetrics
}

// NewMetrics creates and registers every collector.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	migrationMetrics, err := metrics.NewMigrationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration metrics: %w", err)
	}

	uploadMetrics, err := metrics.NewUploadMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload metrics: %w", err)
	}

	finalSyncMetrics, err := metrics.NewFinalSyncMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create final sync metrics: %w", err)
	}

	schedulerMetrics, err := metrics.NewSchedulerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler metrics: %w", err)
	}

	notificationMetrics, err := metrics.NewNotificationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification metrics: %w", err)
	}

	return &Metrics{
		registry:     registry,
		Migration:    migrationMetrics,
		Upload:       uploadMetrics,
		FinalSync:    finalSyncMetrics,
		Scheduler:    schedulerMetrics,
		Notification: notificationMetrics,
	}, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}
