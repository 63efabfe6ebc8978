package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/migration-assistant/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s := New(opts...)
	s.Start(context.Background())
	t.Cleanup(func() { require.NoError(t, s.Stop(5*time.Second)) })
	return s
}

// blockingJob runs until released or cancelled.
type blockingJob struct {
	started  chan struct{}
	release  chan struct{}
	response Response
	once     sync.Once
	sawTrace atomic.Bool
}

func newBlockingJob(resp Response) *blockingJob {
	return &blockingJob{started: make(chan struct{}), release: make(chan struct{}), response: resp}
}

func (j *blockingJob) RunJob(ctx context.Context, req Request) Response {
	if req.TraceID != "" && logger.TraceIDFromContext(ctx) == req.TraceID {
		j.sawTrace.Store(true)
	}
	j.once.Do(func() { close(j.started) })
	select {
	case <-j.release:
		return j.response
	case <-ctx.Done():
		return ResponseAborted
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_Schedule_RejectsDuplicateKey(t *testing.T) {
	s := startScheduler(t)
	job := newBlockingJob(ResponseSuccess)

	require.NoError(t, s.Schedule("final-sync", job, NoRetry()))
	<-job.started
	assert.True(t, s.IsScheduled("final-sync"))

	err := s.Schedule("final-sync", newBlockingJob(ResponseSuccess), NoRetry())
	require.ErrorIs(t, err, ErrJobExists)

	close(job.release)
	waitUntil(t, func() bool { return !s.IsScheduled("final-sync") })

	require.NoError(t, s.Schedule("final-sync", JobFunc(func(context.Context, Request) Response {
		return ResponseSuccess
	}), NoRetry()), "a finished key can be scheduled again")
	assert.True(t, job.sawTrace.Load(), "jobs run with a trace id in their context")
}

func TestScheduler_Schedule_WhenStopped(t *testing.T) {
	s := New()
	err := s.Schedule("db-migration", JobFunc(func(context.Context, Request) Response { return ResponseSuccess }), NoRetry())
	require.ErrorIs(t, err, ErrSchedulerStopped)

	s.Start(context.Background())
	require.NoError(t, s.Stop(time.Second))
	err = s.Schedule("db-migration", JobFunc(func(context.Context, Request) Response { return ResponseSuccess }), NoRetry())
	require.ErrorIs(t, err, ErrSchedulerStopped)
}

func TestScheduler_Schedule_NilJob(t *testing.T) {
	s := startScheduler(t)
	require.ErrorIs(t, s.Schedule("x", nil, NoRetry()), ErrNilJob)
}

func TestScheduler_Schedule_Full(t *testing.T) {
	s := startScheduler(t, WithMaxJobs(1))
	job := newBlockingJob(ResponseSuccess)
	require.NoError(t, s.Schedule("a", job, NoRetry()))

	err := s.Schedule("b", newBlockingJob(ResponseSuccess), NoRetry())
	require.ErrorIs(t, err, ErrSchedulerFull)
	close(job.release)
}

func TestScheduler_Unschedule_CancelsJob(t *testing.T) {
	s := startScheduler(t)
	job := newBlockingJob(ResponseSuccess)

	require.NoError(t, s.Schedule("fs-migration", job, NoRetry()))
	<-job.started

	assert.True(t, s.Unschedule("fs-migration"))
	assert.False(t, s.IsScheduled("fs-migration"))
	assert.False(t, s.Unschedule("fs-migration"))

	waitUntil(t, func() bool { return s.GetStats().Aborted == 1 })
}

func TestScheduler_RetriesFailedRuns(t *testing.T) {
	s := startScheduler(t)
	var attempts atomic.Int32

	job := JobFunc(func(_ context.Context, req Request) Response {
		attempts.Add(1)
		if req.Attempt < 3 {
			return ResponseFailed
		}
		return ResponseSuccess
	})
	cfg := RetryConfig{Enabled: true, MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	require.NoError(t, s.Schedule("retrying", job, cfg))

	waitUntil(t, func() bool { return !s.IsScheduled("retrying") })
	assert.Equal(t, int32(3), attempts.Load())

	stats := s.GetStats()
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 2, stats.Retries)
}

func TestScheduler_AbortedIsNotRetried(t *testing.T) {
	s := startScheduler(t)
	var attempts atomic.Int32

	job := JobFunc(func(context.Context, Request) Response {
		attempts.Add(1)
		return ResponseAborted
	})
	cfg := RetryConfig{Enabled: true, MaxRetries: 3, InitialDelay: time.Millisecond}
	require.NoError(t, s.Schedule("aborting", job, cfg))

	waitUntil(t, func() bool { return !s.IsScheduled("aborting") })
	assert.Equal(t, int32(1), attempts.Load())
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := startScheduler(t)
	require.NoError(t, s.Schedule("panics", JobFunc(func(context.Context, Request) Response {
		panic("boom")
	}), NoRetry()))

	waitUntil(t, func() bool { return s.GetStats().Panics == 1 })
	waitUntil(t, func() bool { return !s.IsScheduled("panics") })
	assert.Equal(t, 1, s.GetStats().Failed)
}

func TestScheduler_Stop_Timeout(t *testing.T) {
	s := New()
	s.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Schedule("stubborn", JobFunc(func(context.Context, Request) Response {
		close(started)
		<-release
		return ResponseSuccess
	}), NoRetry()))
	<-started

	err := s.Stop(20 * time.Millisecond)
	require.Error(t, err)

	close(release)
	waitUntil(t, func() bool { return s.GetStats().Successful == 1 })
}

type recordingMetrics struct {
	mu        sync.Mutex
	responses []string
}

func (m *recordingMetrics) RecordJob(_, response string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, response)
}

func TestScheduler_RecordsMetrics(t *testing.T) {
	metrics := &recordingMetrics{}
	s := startScheduler(t, WithMetrics(metrics))

	require.NoError(t, s.Schedule("ok", JobFunc(func(context.Context, Request) Response { return ResponseSuccess }), NoRetry()))
	waitUntil(t, func() bool {
		metrics.mu.Lock()
		defer metrics.mu.Unlock()
		return len(metrics.responses) == 1
	})
	assert.Equal(t, []string{"success"}, metrics.responses)
}

func TestCalculateBackoffDelay_Capped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.LessOrEqual(t, calculateBackoffDelay(cfg, 10), 3*time.Second)
	assert.GreaterOrEqual(t, calculateBackoffDelay(cfg, 0), 900*time.Millisecond)
}

func TestResponse_String(t *testing.T) {
	assert.Equal(t, "success", ResponseSuccess.String())
	assert.Equal(t, "failed", ResponseFailed.String())
	assert.Equal(t, "aborted", ResponseAborted.String())
}

func TestScheduler_Wait(t *testing.T) {
	s := startScheduler(t)
	job := newBlockingJob(ResponseSuccess)
	require.NoError(t, s.Schedule("wait", job, NoRetry()))
	<-job.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	close(job.release)
	require.NoError(t, s.Wait(context.Background()))
	assert.False(t, s.IsScheduled("wait"))
}
