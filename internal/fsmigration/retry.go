package fsmigration

import (
	"context"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/migration"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
	"github.com/tphakala/migration-assistant/internal/upload"
)

// ErrNoReport is returned when a retry finds no previous filesystem report.
var ErrNoReport = errors.NewStd("no filesystem migration report")

// Aborter stops a running filesystem migration.
type Aborter interface {
	AbortMigration(ctx context.Context) error
}

// RetryFailedFileMigration uploads again the files a previous copy could not upload.
type RetryFailedFileMigration struct {
	fs          Aborter
	migrations  *migration.Service
	reports     *upload.ReportManager
	newUploader func(report *upload.Report) *upload.Uploader
	logger      logger.Logger
}

// NewRetryFailedFileMigration builds the retry from the filesystem service's
// store, reports and uploader settings.
func NewRetryFailedFileMigration(fs *Service, migrations *migration.Service) *RetryFailedFileMigration {
	return &RetryFailedFileMigration{
		fs:         fs,
		migrations: migrations,
		reports:    fs.Reports(),
		newUploader: func(report *upload.Report) *upload.Uploader {
			return upload.NewUploader(fs.Store(), report, fs.Config().uploaderOptions()...)
		},
		logger: GetLogger().Module("retry"),
	}
}

// UploadFailedFiles aborts the running copy, then uploads the failed files
// of the current report into a fresh report and moves on to offline_warning.
// The fresh report counts both the files found and the upload outcome.
func (r *RetryFailedFileMigration) UploadFailedFiles(ctx context.Context) error {
	r.logger.Debug("aborting current filesystem migration")
	if err := r.fs.AbortMigration(ctx); err != nil {
		if errors.Is(err, migration.ErrInvalidMigrationStage) {
			return migration.NewFileSystemMigrationFailure("error aborting fs migration", err)
		}
		return err
	}

	r.logger.Debug("moving to the filesystem copy stage")
	if err := r.migrations.Transition(ctx, stage.FSMigrationCopy); err != nil {
		return migration.NewFileSystemMigrationFailure("error performing retry state transition", err)
	}

	previous, ok := r.reports.CurrentReport(upload.KindFilesystem)
	if !ok {
		return migration.NewFileSystemMigrationFailure("error reading the previous report", ErrNoReport)
	}
	failed := previous.Failures()

	report := r.reports.ResetReport(upload.KindFilesystem)
	queue := upload.NewQueue[string](len(failed))
	for _, f := range failed {
		if err := queue.Put(f.Path); err != nil {
			return migration.NewFileSystemMigrationFailure("error queueing failed files", err)
		}
		report.ReportFileFound()
	}

	if err := r.migrations.Transition(ctx, stage.FSMigrationCopyWait); err != nil {
		return migration.NewFileSystemMigrationFailure("error performing retry state transition", err)
	}

	r.logger.Info("retrying failed files", logger.Int("files", len(failed)))
	report.SetStatus(upload.StatusRunning)
	if err := r.newUploader(report).Upload(ctx, queue); err != nil {
		report.SetStatus(upload.StatusFailed)
		return migration.NewFileSystemMigrationFailure("error uploading failed files", err)
	}
	report.SetStatus(upload.StatusDone)

	r.logger.Info("retry complete",
		logger.Int64("uploaded", report.Uploaded()),
		logger.Int("failed", report.FailureCount()))
	if err := r.migrations.Transition(ctx, stage.OfflineWarning); err != nil {
		return migration.NewFileSystemMigrationFailure("error performing retry state transition", err)
	}
	return nil
}
