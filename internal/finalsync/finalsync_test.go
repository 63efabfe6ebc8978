package finalsync

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/migration-assistant/internal/captor"
	"github.com/tphakala/migration-assistant/internal/datastore"
	"github.com/tphakala/migration-assistant/internal/datastore/entities"
	"github.com/tphakala/migration-assistant/internal/dbmigration"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/migration"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
	"github.com/tphakala/migration-assistant/internal/scheduler"
	"github.com/tphakala/migration-assistant/internal/storage"
	"github.com/tphakala/migration-assistant/internal/upload"
)

var fastWatch = WatcherConfig{
	PollInitialDelay: time.Millisecond,
	PollMaxDelay:     4 * time.Millisecond,
	DrainTimeout:     2 * time.Second,
	QueueURL:         "https://sqs.eu-west-1.amazonaws.com/123/migration-queue",
}

// fakeDepth returns depths in order and then repeats the last one.
type fakeDepth struct {
	mu     sync.Mutex
	depths []int64
	err    error
	calls  int
	urls   []string
}

func (d *fakeDepth) ApproximateDepth(_ context.Context, queueURL string) (visible, inFlight int64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.urls = append(d.urls, queueURL)
	if d.err != nil {
		err := d.err
		d.err = nil
		return 0, 0, err
	}
	depth := d.depths[0]
	if len(d.depths) > 1 {
		d.depths = d.depths[1:]
	}
	return depth, 0, nil
}

type drainMetrics struct {
	mu    sync.Mutex
	depth int64
	waits int
}

func (m *drainMetrics) SetQueueDepth(depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth = depth
}

func (m *drainMetrics) ObserveDrainWait(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waits++
}

type fakeDB struct {
	scheduleResult bool
	scheduleErr    error
	abortErr       error
	scheduled      int
	aborted        int
	elapsed        time.Duration
}

func (d *fakeDB) ScheduleMigration(context.Context) (bool, error) {
	d.scheduled++
	return d.scheduleResult, d.scheduleErr
}

func (d *fakeDB) AbortMigration(context.Context) error {
	d.aborted++
	return d.abortErr
}

func (d *fakeDB) ElapsedTime(context.Context) (time.Duration, bool) {
	return d.elapsed, d.elapsed > 0
}

func (d *fakeDB) FetchCommandResult(context.Context) (dbmigration.CommandResult, error) {
	return dbmigration.CommandResult{}, dbmigration.ErrCommandNotInitialised
}

type fakeFS struct {
	scheduleResult bool
	scheduled      int
	aborted        int
	status         SyncStatus
}

func (f *fakeFS) ScheduleSync(context.Context) bool {
	f.scheduled++
	return f.scheduleResult
}

func (f *fakeFS) AbortMigration(context.Context) { f.aborted++ }

func (f *fakeFS) Status(context.Context) SyncStatus { return f.status }

type fakeScheduler struct {
	err         error
	scheduled   []string
	unscheduled []string
}

func (s *fakeScheduler) Schedule(key string, _ scheduler.Job, _ scheduler.RetryConfig) error {
	if s.err != nil {
		return s.err
	}
	s.scheduled = append(s.scheduled, key)
	return nil
}

func (s *fakeScheduler) Unschedule(key string) bool {
	s.unscheduled = append(s.unscheduled, key)
	return true
}

type drainResult bool

func (d drainResult) AwaitQueueDrain(context.Context) bool { return bool(d) }

type unreachableStore struct{ calls atomic.Int64 }

func (s *unreachableStore) Put(_ context.Context, _ string, r io.Reader, _ int64) error {
	s.calls.Add(1)
	return errors.New(errors.Join(storage.ErrDestinationUnreachable, errors.NewStd("no such host"))).
		Category(errors.CategoryNetwork).
		Build()
}

func (s *unreachableStore) Validate(context.Context) error { return nil }
func (s *unreachableStore) Name() string                   { return "unreachable" }

func newMigrations(t *testing.T) (*migration.Service, datastore.Store) {
	t.Helper()
	store := datastore.NewMemoryStore()
	svc := migration.NewService(store)
	_, err := svc.CreateMigration(context.Background())
	require.NoError(t, err)
	return svc, store
}

func moveTo(t *testing.T, svc *migration.Service, target stage.Stage) {
	t.Helper()
	for _, s := range stage.All()[1:] {
		require.NoError(t, svc.Transition(context.Background(), s))
		if s == target {
			return
		}
	}
}

func currentStage(t *testing.T, svc *migration.Service) stage.Stage {
	t.Helper()
	current, err := svc.CurrentStage(context.Background())
	require.NoError(t, err)
	return current
}

func TestQueueWatcher_AwaitQueueDrain_Drained(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.FinalSyncWait)
	depth := &fakeDepth{depths: []int64{3, 1, 0}}
	metrics := &drainMetrics{}
	cfg := fastWatch
	cfg.Metrics = metrics

	drained := NewQueueWatcher(svc, depth, cfg).AwaitQueueDrain(context.Background())

	assert.True(t, drained)
	assert.Equal(t, stage.Validate, currentStage(t, svc))
	assert.Equal(t, 3, depth.calls)
	assert.Equal(t, fastWatch.QueueURL, depth.urls[0])
	assert.Zero(t, metrics.depth)
	assert.Equal(t, 1, metrics.waits)
}

func TestQueueWatcher_AwaitQueueDrain_Timeout(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.FinalSyncWait)
	cfg := fastWatch
	cfg.DrainTimeout = 30 * time.Millisecond

	drained := NewQueueWatcher(svc, &fakeDepth{depths: []int64{5}}, cfg).AwaitQueueDrain(context.Background())

	assert.False(t, drained)
	assert.Equal(t, stage.FinalSyncError, currentStage(t, svc))
	mc, err := svc.GetContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "timed out waiting for remote queue to drain", mc.ErrorMessage)
}

func TestQueueWatcher_AwaitQueueDrain_WaitsForDatabase(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.DataMigrationImportWait)
	depth := &fakeDepth{depths: []int64{0}}
	w := NewQueueWatcher(svc, depth, fastWatch)

	result := make(chan bool, 1)
	go func() { result <- w.AwaitQueueDrain(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stage.DataMigrationImportWait, currentStage(t, svc), "queue must not drain before the database is done")
	require.NoError(t, svc.TransitionFrom(context.Background(), stage.DataMigrationImportWait, stage.FinalSyncWait))

	assert.True(t, <-result)
	assert.Equal(t, stage.Validate, currentStage(t, svc))
}

func TestQueueWatcher_AwaitQueueDrain_ErrorStage(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.FinalSyncWait)
	require.NoError(t, svc.Error(context.Background(), "restore failed"))
	depth := &fakeDepth{depths: []int64{0}}

	assert.False(t, NewQueueWatcher(svc, depth, fastWatch).AwaitQueueDrain(context.Background()))
	assert.Zero(t, depth.calls)
	assert.Equal(t, stage.Error, currentStage(t, svc))
}

func TestQueueWatcher_AwaitQueueDrain_DepthErrorRetried(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.FinalSyncWait)
	depth := &fakeDepth{depths: []int64{0}, err: errors.NewStd("throttled")}

	assert.True(t, NewQueueWatcher(svc, depth, fastWatch).AwaitQueueDrain(context.Background()))
	assert.Equal(t, 2, depth.calls)
}

func TestQueueWatcher_QueueURLFromContext(t *testing.T) {
	svc, _ := newMigrations(t)
	require.NoError(t, svc.UpdateContext(context.Background(), func(mc *entities.MigrationContext) error {
		mc.MigrationQueueURL = "https://sqs/from-context"
		return nil
	}))
	cfg := fastWatch
	cfg.QueueURL = ""

	w := NewQueueWatcher(svc, &fakeDepth{depths: []int64{0}}, cfg)
	assert.Equal(t, "https://sqs/from-context", w.QueueURL(context.Background()))
}

func TestRunner_RunJob(t *testing.T) {
	svc, store := newMigrations(t)
	moveTo(t, svc, stage.DBMigrationExport)

	home := t.TempDir()
	pc := captor.New(store, svc, time.Minute)
	for _, name := range []string{"a.txt", "b.txt"} {
		p := filepath.Join(home, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o600))
		require.NoError(t, pc.Record(context.Background(), p))
	}
	require.NoError(t, pc.Record(context.Background(), filepath.Join(home, "deleted.txt")))

	dst := t.TempDir()
	local, err := storage.NewLocalStore(dst)
	require.NoError(t, err)
	reports := upload.NewReportManager()

	r := NewRunner(svc, reports, pc, local, drainResult(true), upload.WithRoot(home), upload.WithKeyPrefix("home"))
	resp := r.RunJob(context.Background(), scheduler.Request{Key: JobKey})

	assert.Equal(t, scheduler.ResponseSuccess, resp)
	assert.False(t, r.IsRunning())
	assert.FileExists(t, filepath.Join(dst, "home", "a.txt"))
	assert.FileExists(t, filepath.Join(dst, "home", "b.txt"))

	report, ok := reports.CurrentReport(upload.KindFinalSync)
	require.True(t, ok)
	assert.Equal(t, int64(3), report.FilesFound())
	assert.Equal(t, int64(2), report.Uploaded())
	assert.Equal(t, 1, report.FailureCount(), "a vanished file is logged, not fatal")
	assert.Equal(t, upload.StatusDone, report.Status())

	paths, err := pc.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, paths, "the ledger is drained by the run")
}

func TestRunner_RunJob_Overlapping(t *testing.T) {
	svc, store := newMigrations(t)
	r := NewRunner(svc, upload.NewReportManager(), captor.New(store, svc, 0), &unreachableStore{}, drainResult(true))
	r.isRunning.Store(true)

	assert.Equal(t, scheduler.ResponseAborted, r.RunJob(context.Background(), scheduler.Request{Key: JobKey}))
}

func TestRunner_RunJob_DestinationUnreachable(t *testing.T) {
	svc, store := newMigrations(t)
	moveTo(t, svc, stage.DBMigrationExport)
	home := t.TempDir()
	p := filepath.Join(home, "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("a"), 0o600))
	pc := captor.New(store, svc, 0)
	require.NoError(t, pc.Record(context.Background(), p))

	r := NewRunner(svc, upload.NewReportManager(), pc, &unreachableStore{}, drainResult(true), upload.WithRoot(home))
	resp := r.RunJob(context.Background(), scheduler.Request{Key: JobKey})

	assert.Equal(t, scheduler.ResponseFailed, resp)
	assert.Equal(t, stage.FinalSyncError, currentStage(t, svc))
	assert.False(t, r.IsRunning())
}

func TestRunner_RunJob_NotDrained(t *testing.T) {
	svc, store := newMigrations(t)
	r := NewRunner(svc, upload.NewReportManager(), captor.New(store, svc, 0), &unreachableStore{}, drainResult(false))

	assert.Equal(t, scheduler.ResponseFailed, r.RunJob(context.Background(), scheduler.Request{Key: JobKey}))
}

func TestService_ScheduleSync(t *testing.T) {
	sched := &fakeScheduler{}
	s := NewService(sched, drainJob(), nil, upload.NewReportManager())

	assert.True(t, s.ScheduleSync(context.Background()))
	assert.Equal(t, []string{JobKey}, sched.scheduled)

	sched.err = scheduler.ErrJobExists
	assert.False(t, s.ScheduleSync(context.Background()))

	s.AbortMigration(context.Background())
	assert.Equal(t, []string{JobKey}, sched.unscheduled)
}

func TestService_ScheduleSync_StoppedScheduler(t *testing.T) {
	s := NewService(scheduler.New(), drainJob(), nil, upload.NewReportManager())
	assert.False(t, s.ScheduleSync(context.Background()))
}

func TestService_Status(t *testing.T) {
	svc, _ := newMigrations(t)
	reports := upload.NewReportManager()
	report := reports.ResetReport(upload.KindFinalSync)
	for range 5 {
		report.ReportUploaded()
	}
	report.ReportFailure("x", "gone")

	w := NewQueueWatcher(svc, &fakeDepth{depths: []int64{2}}, fastWatch)
	status := NewService(&fakeScheduler{}, drainJob(), w, reports).Status(context.Background())

	assert.Equal(t, SyncStatus{UploadedFileCount: 5, EnqueuedFileCount: 2, FailedFileCount: 1}, status)
}

func drainJob() scheduler.Job {
	return scheduler.JobFunc(func(context.Context, scheduler.Request) scheduler.Response {
		return scheduler.ResponseSuccess
	})
}
