package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UploadMetrics tracks file transfers into object storage.
type UploadMetrics struct {
	Items    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewUploadMetrics creates and registers the upload collectors.
func NewUploadMetrics(registry *prometheus.Registry) (*UploadMetrics, error) {
	m := &UploadMetrics{
		Items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_upload_items_total",
			Help: "Total number of files handled by the uploader by outcome",
		}, []string{"store", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migration_upload_duration_seconds",
			Help:    "Time spent transferring one file",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		}, []string{"store"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register upload metrics: %w", err)
	}
	return m, nil
}

// RecordUpload records the outcome of one file transfer.
func (m *UploadMetrics) RecordUpload(store, outcome string, d time.Duration) {
	m.Items.WithLabelValues(store, outcome).Inc()
	m.Duration.WithLabelValues(store).Observe(d.Seconds())
}

// Collect implements the prometheus.Collector interface.
func (m *UploadMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Items.Collect(ch)
	m.Duration.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *UploadMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Items.Describe(ch)
	m.Duration.Describe(ch)
}
