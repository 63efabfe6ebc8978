package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MigrationMetrics tracks stage changes and the duration of the database phases.
type MigrationMetrics struct {
	StageTransitions *prometheus.CounterVec
	CurrentStage     prometheus.Gauge
	DBPhaseDuration  *prometheus.HistogramVec
}

// NewMigrationMetrics creates and registers the migration collectors.
func NewMigrationMetrics(registry *prometheus.Registry) (*MigrationMetrics, error) {
	m := &MigrationMetrics{
		StageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_stage_transitions_total",
			Help: "Total number of committed stage transitions",
		}, []string{"from", "to"}),
		CurrentStage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "migration_current_stage",
			Help: "Ordinal of the current migration stage",
		}),
		DBPhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migration_db_phase_duration_seconds",
			Help:    "Duration of the database export, upload and restore phases",
			Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount15),
		}, []string{"phase"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register migration metrics: %w", err)
	}
	return m, nil
}

// RecordStageTransition counts a committed stage change.
func (m *MigrationMetrics) RecordStageTransition(from, to string) {
	m.StageTransitions.WithLabelValues(from, to).Inc()
}

// SetCurrentStage records the ordinal of the current stage.
func (m *MigrationMetrics) SetCurrentStage(ordinal int) {
	m.CurrentStage.Set(float64(ordinal))
}

// ObserveDBPhase records how long a database phase took.
func (m *MigrationMetrics) ObserveDBPhase(phase string, d time.Duration) {
	m.DBPhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// Collect implements the prometheus.Collector interface.
func (m *MigrationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.StageTransitions.Collect(ch)
	ch <- m.CurrentStage
	m.DBPhaseDuration.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *MigrationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.StageTransitions.Describe(ch)
	ch <- m.CurrentStage.Desc()
	m.DBPhaseDuration.Describe(ch)
}
