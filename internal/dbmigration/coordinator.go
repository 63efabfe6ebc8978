// Package dbmigration drives the database phases of a migration: export on
// the source host, upload of the dump, and restore on the target.
package dbmigration

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/tphakala/migration-assistant/internal/datastore/entities"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/migration"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
	"github.com/tphakala/migration-assistant/internal/remote"
	"github.com/tphakala/migration-assistant/internal/scheduler"
	"github.com/tphakala/migration-assistant/internal/storage"
	"github.com/tphakala/migration-assistant/internal/upload"
)

// JobKey is the scheduler key of the database migration job.
const JobKey = "database-migration"

// DefaultArtifactKey is where the dump is stored in the migration bucket.
const DefaultArtifactKey = "db/db.dump"

const scheduleFailureMessage = "Error starting database migration job."

// Scheduler is the subset of the host scheduler the coordinator uses.
type Scheduler interface {
	Schedule(key string, job scheduler.Job, cfg scheduler.RetryConfig) error
	Unschedule(key string) bool
}

// PhaseMetrics observes how long each database phase took.
type PhaseMetrics interface {
	ObserveDBPhase(phase string, d time.Duration)
}

// Config configures a Coordinator.
type Config struct {
	// DumpPath is the local file the export operation writes.
	DumpPath string
	// ArtifactKey is the object key the dump is uploaded to.
	ArtifactKey string
	Poll        remote.PollConfig
	Metrics     PhaseMetrics
}

// Coordinator schedules and runs the database migration job.
type Coordinator struct {
	migrations *migration.Service
	scheduler  Scheduler
	export     remote.Operation
	restore    *RestoreService
	store      storage.ObjectStore
	config     Config
	now        func() time.Time
	logger     logger.Logger

	mu       sync.Mutex
	inFlight remote.Operation
	running  chan struct{} // closed when the running job returns
}

// NewCoordinator wires the export operation, the artifact store and the restore service.
func NewCoordinator(migrations *migration.Service, sched Scheduler, export remote.Operation, store storage.ObjectStore, restore *RestoreService, cfg Config) *Coordinator {
	if cfg.ArtifactKey == "" {
		cfg.ArtifactKey = DefaultArtifactKey
	}
	if cfg.Poll == (remote.PollConfig{}) {
		cfg.Poll = remote.DefaultPollConfig()
	}
	return &Coordinator{
		migrations: migrations,
		scheduler:  sched,
		export:     export,
		restore:    restore,
		store:      store,
		config:     cfg,
		now:        time.Now,
		logger:     GetLogger(),
	}
}

// ScheduleMigration moves the migration into the export stage and schedules
// the job. It returns false without error when a database phase is already
// under way, and false after recording an error when the job cannot be scheduled.
func (c *Coordinator) ScheduleMigration(ctx context.Context) (bool, error) {
	current, err := c.migrations.CurrentStage(ctx)
	if err != nil {
		return false, err
	}
	if current.IsDBPhase() {
		c.logger.Info("database migration already in progress", logger.String("stage", string(current)))
		return false, nil
	}

	if err := c.migrations.TransitionFrom(ctx, current, stage.DBMigrationExport); err != nil {
		return false, err
	}

	if err := c.scheduler.Schedule(JobKey, scheduler.JobFunc(c.RunJob), scheduler.NoRetry()); err != nil {
		c.logger.Error("failed to schedule database migration job", logger.Error(err))
		if failErr := c.migrations.Error(ctx, scheduleFailureMessage); failErr != nil {
			return false, errors.Join(err, failErr)
		}
		return false, nil
	}
	return true, nil
}

// RunJob is the scheduler entry point.
func (c *Coordinator) RunJob(ctx context.Context, _ scheduler.Request) scheduler.Response {
	done := make(chan struct{})
	c.mu.Lock()
	c.running = done
	c.mu.Unlock()
	defer func() {
		c.setInFlight(nil)
		close(done)
	}()

	if err := c.PerformMigration(ctx); err != nil {
		if ctx.Err() != nil {
			return scheduler.ResponseAborted
		}
		return scheduler.ResponseFailed
	}
	return scheduler.ResponseSuccess
}

// PerformMigration runs export, upload and restore. A failure is recorded
// on the migration unless ctx was cancelled by an abort.
func (c *Coordinator) PerformMigration(ctx context.Context) error {
	err := c.perform(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		c.logger.Warn("database migration cancelled", logger.Error(err))
		return err
	}

	var failure *migration.DatabaseMigrationFailure
	if !errors.As(err, &failure) {
		err = migration.NewDatabaseMigrationFailure("database migration failed", err)
	}
	c.logger.Error("database migration failed", logger.Error(err))
	if failErr := c.migrations.Error(ctx, err.Error()); failErr != nil {
		c.logger.Error("failed to record database migration failure", logger.Error(failErr))
	}
	return err
}

func (c *Coordinator) perform(ctx context.Context) error {
	if err := c.migrations.AssertCurrentStage(ctx, stage.DBMigrationExport); err != nil {
		return err
	}
	if err := c.migrations.UpdateContext(ctx, func(mc *entities.MigrationContext) error {
		mc.StartEpoch = c.now().Unix()
		mc.EndEpoch = 0
		return nil
	}); err != nil {
		return err
	}

	if err := c.runExport(ctx); err != nil {
		return err
	}
	if err := c.uploadArtifact(ctx); err != nil {
		return err
	}
	if err := c.runRestore(ctx); err != nil {
		return err
	}

	if err := c.migrations.TransitionFrom(ctx, stage.DataMigrationImportWait, stage.FinalSyncWait); err != nil {
		return err
	}
	return c.migrations.UpdateContext(ctx, func(mc *entities.MigrationContext) error {
		mc.EndEpoch = c.now().Unix()
		return nil
	})
}

func (c *Coordinator) runExport(ctx context.Context) error {
	start := c.now()
	c.setInFlight(c.export)

	if _, err := c.export.Start(ctx); err != nil {
		return migration.NewDatabaseMigrationFailure("unable to start database export", err)
	}
	if err := c.migrations.TransitionFrom(ctx, stage.DBMigrationExport, stage.DBMigrationExportWait); err != nil {
		return err
	}

	status, err := remote.Await(ctx, c.export, c.config.Poll)
	if err != nil {
		return err
	}
	if status != remote.StatusSuccess {
		msg := "database export failed"
		if out, outErr := c.export.FetchLastOutput(ctx); outErr == nil && out.Stderr != "" {
			msg = fmt.Sprintf("database export failed: %s", out.Stderr)
		}
		return migration.NewDatabaseMigrationFailure(msg, fmt.Errorf("export finished with status %s", status))
	}

	c.observe("export", start)
	return nil
}

func (c *Coordinator) uploadArtifact(ctx context.Context) error {
	start := c.now()
	c.setInFlight(nil)

	if err := c.migrations.TransitionFrom(ctx, stage.DBMigrationExportWait, stage.DBMigrationUpload); err != nil {
		return err
	}

	// The dump is uploaded under ArtifactKey whatever its local file name is.
	report := upload.NewReport(upload.KindDatabase)
	report.ReportFileFound()
	queue := upload.NewQueue[string](1)
	if err := queue.Put(filepath.Base(c.config.DumpPath)); err != nil {
		return err
	}
	uploader := upload.NewUploader(
		&renamingStore{ObjectStore: c.store, key: c.config.ArtifactKey},
		report,
		upload.WithRoot(filepath.Dir(c.config.DumpPath)),
		upload.WithConcurrency(1),
	)

	report.SetStatus(upload.StatusRunning)
	if err := uploader.Upload(ctx, queue); err != nil {
		report.SetStatus(upload.StatusFailed)
		return migration.NewDatabaseMigrationFailure("unable to upload database dump", err)
	}
	if failures := report.Failures(); len(failures) > 0 {
		report.SetStatus(upload.StatusFailed)
		return migration.NewDatabaseMigrationFailure("unable to upload database dump", errors.NewStd(failures[0].Reason))
	}
	report.SetStatus(upload.StatusDone)

	if err := c.migrations.TransitionFrom(ctx, stage.DBMigrationUpload, stage.DBMigrationUploadWait); err != nil {
		return err
	}
	c.observe("upload", start)
	return nil
}

func (c *Coordinator) runRestore(ctx context.Context) error {
	start := c.now()
	if err := c.migrations.TransitionFrom(ctx, stage.DBMigrationUploadWait, stage.DataMigrationImport); err != nil {
		return err
	}

	c.setInFlight(c.restore.op)
	err := c.restore.Restore(ctx, func(ctx context.Context) error {
		return c.migrations.TransitionFrom(ctx, stage.DataMigrationImport, stage.DataMigrationImportWait)
	})
	if err != nil {
		return err
	}
	c.observe("restore", start)
	return nil
}

// AbortMigration removes the scheduled job, cancels the running operation
// and returns the migration to offline_warning.
func (c *Coordinator) AbortMigration(ctx context.Context) error {
	unscheduled := c.scheduler.Unschedule(JobKey)

	current, err := c.migrations.CurrentStage(ctx)
	if err != nil {
		return err
	}
	if !current.IsDBPhase() {
		return migration.InvalidStageError("aborting the database migration", current)
	}

	c.mu.Lock()
	op, running := c.inFlight, c.running
	c.mu.Unlock()

	if op != nil {
		if err := op.Cancel(ctx); err != nil {
			c.logger.Warn("failed to cancel database operation", logger.Error(err))
		}
	}
	if unscheduled && running != nil {
		select {
		case <-running:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// The job may have advanced before it saw the cancellation.
	if current, err = c.migrations.CurrentStage(ctx); err != nil {
		return err
	}
	if !current.IsDBPhase() {
		return migration.InvalidStageError("aborting the database migration", current)
	}
	if err := c.migrations.TransitionFrom(ctx, current, stage.OfflineWarning); err != nil {
		return err
	}
	// Stop the elapsed time clock.
	if err := c.migrations.UpdateContext(ctx, func(mc *entities.MigrationContext) error {
		if mc.StartEpoch > 0 {
			mc.EndEpoch = c.now().Unix()
		}
		return nil
	}); err != nil {
		return err
	}
	c.logger.Info("database migration aborted", logger.String("from", string(current)))
	return nil
}

// ElapsedTime returns how long the database migration has been running, or
// how long it ran once it ended. ok is false before it started.
func (c *Coordinator) ElapsedTime(ctx context.Context) (time.Duration, bool) {
	mc, err := c.migrations.GetContext(ctx)
	if err != nil || mc.StartEpoch == 0 {
		return 0, false
	}
	end := c.now().Unix()
	if mc.EndEpoch > 0 {
		end = mc.EndEpoch
	}
	return time.Duration(max(end-mc.StartEpoch, 0)) * time.Second, true
}

// FetchCommandResult returns the output of the last restore.
func (c *Coordinator) FetchCommandResult(ctx context.Context) (CommandResult, error) {
	return c.restore.FetchCommandResult(ctx)
}

func (c *Coordinator) setInFlight(op remote.Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = op
}

func (c *Coordinator) observe(phase string, start time.Time) {
	d := c.now().Sub(start)
	c.logger.Info("database phase complete", logger.String("phase", phase), logger.Duration("elapsed", d))
	if c.config.Metrics != nil {
		c.config.Metrics.ObserveDBPhase(phase, d)
	}
}

// renamingStore stores every object under a fixed key.
type renamingStore struct {
	storage.ObjectStore
	key string
}

func (s *renamingStore) Put(ctx context.Context, _ string, r io.Reader, size int64) error {
	return s.ObjectStore.Put(ctx, path.Clean(s.key), r, size)
}
