package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FinalSyncMetrics tracks the remote queue the target consumes.
type FinalSyncMetrics struct {
	QueueDepth prometheus.Gauge
	DrainWait  prometheus.Histogram
}

// NewFinalSyncMetrics creates and registers the final sync collectors.
func NewFinalSyncMetrics(registry *prometheus.Registry) (*FinalSyncMetrics, error) {
	m := &FinalSyncMetrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "migration_final_sync_queue_depth",
			Help: "Visible plus in-flight messages of the remote sync queue",
		}),
		DrainWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "migration_final_sync_drain_wait_seconds",
			Help:    "Time spent waiting for the remote sync queue to drain",
			Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount15),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register final sync metrics: %w", err)
	}
	return m, nil
}

// SetQueueDepth records the last observed queue depth.
func (m *FinalSyncMetrics) SetQueueDepth(depth int64) {
	m.QueueDepth.Set(float64(depth))
}

// ObserveDrainWait records one wait for the queue to drain.
func (m *FinalSyncMetrics) ObserveDrainWait(d time.Duration) {
	m.DrainWait.Observe(d.Seconds())
}

// Collect implements the prometheus.Collector interface.
func (m *FinalSyncMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.QueueDepth
	ch <- m.DrainWait
}

// Describe implements the prometheus.Collector interface.
func (m *FinalSyncMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.QueueDepth.Desc()
	ch <- m.DrainWait.Desc()
}
