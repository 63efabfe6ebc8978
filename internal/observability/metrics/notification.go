package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/migration-assistant/internal/logger"
)

// NotificationMetrics tracks stage notifications sent over MQTT and shoutrrr.
type NotificationMetrics struct {
	MQTTConnected  prometheus.Gauge
	Delivered      *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec
}

// NewNotificationMetrics creates and registers the notification collectors.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{
		MQTTConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "migration_mqtt_connection_status",
			Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
		}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_notifications_delivered_total",
			Help: "Total number of notifications delivered by channel",
		}, []string{"channel"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_notification_errors_total",
			Help: "Total number of notification errors by channel",
		}, []string{"channel"}),
		PublishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migration_notification_publish_latency_seconds",
			Help:    "Latency of notification delivery in seconds",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		}, []string{"channel"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

// UpdateConnectionStatus records whether the MQTT client is connected.
func (m *NotificationMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.MQTTConnected.Set(1)
	} else {
		m.MQTTConnected.Set(0)
	}
}

// RecordDelivery records the outcome of one notification.
func (m *NotificationMetrics) RecordDelivery(channel string, d time.Duration, err error) {
	if err != nil {
		m.Errors.WithLabelValues(channel).Inc()
		log.Debug("notification delivery failed", logger.String("channel", channel))
		return
	}
	m.Delivered.WithLabelValues(channel).Inc()
	m.PublishLatency.WithLabelValues(channel).Observe(d.Seconds())
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.MQTTConnected
	m.Delivered.Collect(ch)
	m.Errors.Collect(ch)
	m.PublishLatency.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.MQTTConnected.Desc()
	m.Delivered.Describe(ch)
	m.Errors.Describe(ch)
	m.PublishLatency.Describe(ch)
}
