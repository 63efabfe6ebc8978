package finalsync

import (
	"context"
	"time"

	"github.com/tphakala/migration-assistant/internal/dbmigration"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/migration"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
)

// Outcome is the result of a controller request.
type Outcome int

const (
	Accepted Outcome = iota
	Conflict
	BadRequest
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Conflict:
		return "conflict"
	case BadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// DBMigration is the database side of the final sync.
type DBMigration interface {
	ScheduleMigration(ctx context.Context) (bool, error)
	AbortMigration(ctx context.Context) error
	ElapsedTime(ctx context.Context) (time.Duration, bool)
	FetchCommandResult(ctx context.Context) (dbmigration.CommandResult, error)
}

// FSSync is the filesystem side of the final sync.
type FSSync interface {
	ScheduleSync(ctx context.Context) bool
	AbortMigration(ctx context.Context)
	Status(ctx context.Context) SyncStatus
}

// DBStatus is the coarse progress of the database migration.
type DBStatus string

const (
	DBNotStarted DBStatus = "NOT_STARTED"
	DBExporting  DBStatus = "EXPORTING"
	DBUploading  DBStatus = "UPLOADING"
	DBImporting  DBStatus = "IMPORTING"
	DBDone       DBStatus = "DONE"
	DBFailed     DBStatus = "FAILED"
)

// DBStatusOf maps a stage to the database migration progress.
func DBStatusOf(s stage.Stage) DBStatus {
	switch s {
	case stage.DBMigrationExport, stage.DBMigrationExportWait:
		return DBExporting
	case stage.DBMigrationUpload, stage.DBMigrationUploadWait:
		return DBUploading
	case stage.DataMigrationImport, stage.DataMigrationImportWait, stage.FinalSyncWait:
		return DBImporting
	case stage.Validate, stage.Cutover, stage.Finished:
		return DBDone
	}
	if s.IsErrorStage() {
		return DBFailed
	}
	return DBNotStarted
}

// Status is the combined progress of the final sync.
type Status struct {
	Stage        stage.Stage   `json:"stage"`
	DB           DBStatus      `json:"db"`
	DBElapsed    time.Duration `json:"dbElapsed"`
	FSUploaded   int64         `json:"fsUploaded"`
	FSDownloaded int64         `json:"fsDownloaded"`
	FSFailed     int64         `json:"fsFailed"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// Controller starts, retries and aborts the two halves of the final sync.
type Controller struct {
	migrations *migration.Service
	db         DBMigration
	fs         FSSync
	logger     logger.Logger
}

// NewController creates a controller.
func NewController(migrations *migration.Service, db DBMigration, fs FSSync) *Controller {
	return &Controller{migrations: migrations, db: db, fs: fs, logger: GetLogger().Module("controller")}
}

// Start schedules the database migration and the file sync. When the file
// sync cannot be scheduled the database migration is aborted again.
func (c *Controller) Start(ctx context.Context) (Outcome, error) {
	current, err := c.migrations.CurrentStage(ctx)
	if err != nil {
		return Conflict, err
	}
	if current.IsDBPhase() {
		c.logger.Warn("database migration already in progress", logger.String("stage", string(current)))
		return Conflict, nil
	}

	started, err := c.db.ScheduleMigration(ctx)
	if err != nil {
		if errors.Is(err, migration.ErrInvalidMigrationStage) {
			return Conflict, nil
		}
		return Conflict, err
	}
	if !started {
		return Conflict, nil
	}

	if !c.fs.ScheduleSync(ctx) {
		c.logger.Warn("file sync could not be scheduled, aborting database migration")
		if err := c.db.AbortMigration(ctx); err != nil {
			return Conflict, err
		}
		return Conflict, nil
	}
	return Accepted, nil
}

// RetryFSSync restarts the file sync after a final sync error.
func (c *Controller) RetryFSSync(ctx context.Context) (Outcome, error) {
	if outcome, err := c.requireFinalSyncError(ctx); outcome != Accepted || err != nil {
		return outcome, err
	}

	if err := c.migrations.TransitionFrom(ctx, stage.FinalSyncError, stage.FinalSyncWait); err != nil {
		return Conflict, err
	}
	if !c.fs.ScheduleSync(ctx) {
		// Do not leave the migration in a stage nothing is working on.
		if err := c.migrations.TransitionFrom(ctx, stage.FinalSyncWait, stage.FinalSyncError); err != nil {
			return Conflict, err
		}
		return Conflict, nil
	}
	return Accepted, nil
}

// RetryDBMigration restarts the database migration after a final sync error.
func (c *Controller) RetryDBMigration(ctx context.Context) (Outcome, error) {
	if outcome, err := c.requireFinalSyncError(ctx); outcome != Accepted || err != nil {
		return outcome, err
	}

	started, err := c.db.ScheduleMigration(ctx)
	if err != nil {
		return Conflict, err
	}
	if !started {
		return Conflict, nil
	}
	return Accepted, nil
}

func (c *Controller) requireFinalSyncError(ctx context.Context) (Outcome, error) {
	current, err := c.migrations.CurrentStage(ctx)
	if err != nil {
		return BadRequest, err
	}
	if current != stage.FinalSyncError {
		c.logger.Warn("retry requested outside final_sync_error", logger.String("stage", string(current)))
		return BadRequest, nil
	}
	return Accepted, nil
}

// Abort stops the database migration and always removes the file sync job.
// cancelled is false when no database migration was in progress.
func (c *Controller) Abort(ctx context.Context) (cancelled bool, err error) {
	defer c.fs.AbortMigration(ctx)

	if err := c.db.AbortMigration(ctx); err != nil {
		if errors.Is(err, migration.ErrInvalidMigrationStage) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Status reports the progress of both halves.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	current, err := c.migrations.CurrentStage(ctx)
	if err != nil {
		return Status{}, err
	}

	status := Status{Stage: current, DB: DBStatusOf(current)}
	if elapsed, ok := c.db.ElapsedTime(ctx); ok {
		status.DBElapsed = elapsed
	}

	fs := c.fs.Status(ctx)
	status.FSUploaded = fs.UploadedFileCount
	status.FSDownloaded = max(fs.UploadedFileCount-fs.EnqueuedFileCount, 0)
	status.FSFailed = fs.FailedFileCount

	if mc, err := c.migrations.GetContext(ctx); err == nil {
		status.ErrorMessage = mc.ErrorMessage
	}
	return status, nil
}

// DBLogs returns the output of the last database restore.
func (c *Controller) DBLogs(ctx context.Context) (dbmigration.CommandResult, error) {
	return c.db.FetchCommandResult(ctx)
}
