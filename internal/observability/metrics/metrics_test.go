package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/migration-assistant/internal/errors"
)

func TestMigrationMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewMigrationMetrics(registry)
	require.NoError(t, err)

	m.RecordStageTransition("not_started", "authentication")
	m.RecordStageTransition("not_started", "authentication")
	m.SetCurrentStage(1)
	m.ObserveDBPhase(PhaseExport, 3*time.Second)

	assert.InDelta(t, 2, testutil.ToFloat64(m.StageTransitions.WithLabelValues("not_started", "authentication")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CurrentStage), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.DBPhaseDuration))

	_, err = NewMigrationMetrics(registry)
	assert.Error(t, err, "registering twice on one registry fails")
}

func TestUploadMetrics(t *testing.T) {
	m, err := NewUploadMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordUpload("s3", LabelUploaded, 10*time.Millisecond)
	m.RecordUpload("s3", LabelUploaded, 20*time.Millisecond)
	m.RecordUpload("s3", LabelFailed, time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Items.WithLabelValues("s3", LabelUploaded)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Items.WithLabelValues("s3", LabelFailed)), 0)
}

func TestFinalSyncMetrics(t *testing.T) {
	m, err := NewFinalSyncMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SetQueueDepth(42)
	m.ObserveDrainWait(time.Minute)

	assert.InDelta(t, 42, testutil.ToFloat64(m.QueueDepth), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m))
}

func TestSchedulerMetrics(t *testing.T) {
	m, err := NewSchedulerMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordJob("final-sync", "success", time.Second)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Jobs.WithLabelValues("final-sync", "success")), 0)
}

func TestNotificationMetrics(t *testing.T) {
	m, err := NewNotificationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.UpdateConnectionStatus(true)
	m.RecordDelivery("mqtt", time.Millisecond, nil)
	m.RecordDelivery("shoutrrr", 0, errors.NewStd("unauthorized"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.MQTTConnected), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Delivered.WithLabelValues("mqtt")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors.WithLabelValues("shoutrrr")), 0)

	m.UpdateConnectionStatus(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.MQTTConnected), 0)
}
