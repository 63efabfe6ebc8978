package finalsync

import (
	"context"
	"sync/atomic"

	"github.com/tphakala/migration-assistant/internal/captor"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/migration"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
	"github.com/tphakala/migration-assistant/internal/scheduler"
	"github.com/tphakala/migration-assistant/internal/storage"
	"github.com/tphakala/migration-assistant/internal/upload"
)

// Drainer waits for the target to consume the uploaded files.
type Drainer interface {
	AwaitQueueDrain(ctx context.Context) bool
}

// Runner is the final sync job: it uploads the captured paths and waits for
// the remote queue to drain.
type Runner struct {
	migrations *migration.Service
	reports    *upload.ReportManager
	captor     captor.PathCaptor
	store      storage.ObjectStore
	watcher    Drainer
	options    []upload.Option
	logger     logger.Logger

	isRunning atomic.Bool
}

var _ scheduler.Job = (*Runner)(nil)

// NewRunner creates the final sync job. opts configure the uploader.
func NewRunner(migrations *migration.Service, reports *upload.ReportManager, pc captor.PathCaptor, store storage.ObjectStore, watcher Drainer, opts ...upload.Option) *Runner {
	return &Runner{
		migrations: migrations,
		reports:    reports,
		captor:     pc,
		store:      store,
		watcher:    watcher,
		options:    opts,
		logger:     GetLogger().Module("runner"),
	}
}

// IsRunning reports whether a run is in progress.
func (r *Runner) IsRunning() bool { return r.isRunning.Load() }

// RunJob uploads the captured paths. Overlapping runs are aborted.
func (r *Runner) RunJob(ctx context.Context, req scheduler.Request) scheduler.Response {
	if !r.isRunning.CompareAndSwap(false, true) {
		r.logger.Warn("final sync already running, skipping", logger.String("key", req.Key))
		return scheduler.ResponseAborted
	}
	defer r.isRunning.Store(false)

	log := r.logger.WithContext(ctx)
	report := r.reports.ResetReport(upload.KindFinalSync)
	report.SetStatus(upload.StatusRunning)

	paths, err := r.captor.DrainAll(ctx)
	if err != nil {
		log.Error("unable to read captured paths", logger.Error(err))
		report.SetStatus(upload.StatusFailed)
		return scheduler.ResponseFailed
	}
	for range paths {
		report.ReportFileFound()
	}

	queue := upload.NewQueue[string](len(paths))
	for _, p := range paths {
		if err := queue.Put(p); err != nil {
			log.Error("unable to queue captured path", logger.String("path", p), logger.Error(err))
		}
	}
	queue.Close()

	log.Info("uploading captured files", logger.Int("files", len(paths)))
	if err := upload.NewUploader(r.store, report, r.options...).Upload(ctx, queue); err != nil {
		report.SetStatus(upload.StatusFailed)
		var uploadErr *upload.FileUploadError
		if errors.As(err, &uploadErr) {
			log.Error("final sync upload failed", logger.Error(err))
			if failErr := r.migrations.Fail(ctx, stage.FinalSyncError, err.Error()); failErr != nil {
				log.Error("unable to record final sync failure", logger.Error(failErr))
			}
			return scheduler.ResponseFailed
		}
		log.Warn("final sync upload interrupted", logger.Error(err))
		return scheduler.ResponseAborted
	}

	for _, f := range report.Failures() {
		log.Warn("file not synced", logger.String("path", f.Path), logger.String("reason", f.Reason))
	}
	report.SetStatus(upload.StatusDone)

	if r.watcher.AwaitQueueDrain(ctx) {
		return scheduler.ResponseSuccess
	}
	if ctx.Err() != nil {
		return scheduler.ResponseAborted
	}
	return scheduler.ResponseFailed
}
