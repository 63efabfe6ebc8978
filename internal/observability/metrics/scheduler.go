package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics tracks the jobs run by the host scheduler.
type SchedulerMetrics struct {
	Jobs        *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
}

// NewSchedulerMetrics creates and registers the scheduler collectors.
func NewSchedulerMetrics(registry *prometheus.Registry) (*SchedulerMetrics, error) {
	m := &SchedulerMetrics{
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_scheduler_jobs_total",
			Help: "Total number of job runs by outcome",
		}, []string{"job", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migration_scheduler_job_duration_seconds",
			Help:    "Duration of job runs",
			Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount15),
		}, []string{"job"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register scheduler metrics: %w", err)
	}
	return m, nil
}

// RecordJob records the outcome of one job run.
func (m *SchedulerMetrics) RecordJob(key, response string, d time.Duration) {
	m.Jobs.WithLabelValues(key, response).Inc()
	m.JobDuration.WithLabelValues(key).Observe(d.Seconds())
}

// Collect implements the prometheus.Collector interface.
func (m *SchedulerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Jobs.Collect(ch)
	m.JobDuration.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *SchedulerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Jobs.Describe(ch)
	m.JobDuration.Describe(ch)
}
