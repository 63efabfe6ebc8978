// Package fsmigration copies the application home directory to the target:
// a bulk upload into object storage followed by a download on the target host.
package fsmigration

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/migration"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
	"github.com/tphakala/migration-assistant/internal/remote"
	"github.com/tphakala/migration-assistant/internal/scheduler"
	"github.com/tphakala/migration-assistant/internal/storage"
	"github.com/tphakala/migration-assistant/internal/upload"
)

// JobKey is the scheduler key of the filesystem migration job.
const JobKey = "filesystem-migration"

const (
	scheduleFailureMessage = "Error starting filesystem migration job."
	abortedMessage         = "File system migration was aborted"
)

// Scheduler is the subset of the host scheduler the service uses.
type Scheduler interface {
	Schedule(key string, job scheduler.Job, cfg scheduler.RetryConfig) error
	Unschedule(key string) bool
}

// Config configures the filesystem migration.
type Config struct {
	// HomeDir is the directory copied to the target.
	HomeDir     string
	KeyPrefix   string
	Concurrency int
	// RateLimit caps uploads per second. Zero disables throttling.
	RateLimit float64
	RateBurst int
	Poll      remote.PollConfig
	Metrics   upload.Metrics
}

// uploaderOptions returns the uploader options shared by the bulk copy and the retry.
func (c Config) uploaderOptions() []upload.Option {
	opts := []upload.Option{
		upload.WithRoot(c.HomeDir),
		upload.WithKeyPrefix(c.KeyPrefix),
	}
	if c.Concurrency > 0 {
		opts = append(opts, upload.WithConcurrency(c.Concurrency))
	}
	if c.RateLimit > 0 {
		opts = append(opts, upload.WithRateLimit(c.RateLimit, c.RateBurst))
	}
	if c.Metrics != nil {
		opts = append(opts, upload.WithMetrics(c.Metrics))
	}
	return opts
}

// Service runs the filesystem migration job.
type Service struct {
	migrations *migration.Service
	scheduler  Scheduler
	reports    *upload.ReportManager
	store      storage.ObjectStore
	download   remote.Operation
	config     Config
	logger     logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	report *upload.Report
}

// NewService wires the filesystem migration. download runs on the target
// host and pulls the uploaded files into place; it may be nil when the
// object store already is the target.
func NewService(migrations *migration.Service, sched Scheduler, reports *upload.ReportManager, store storage.ObjectStore, download remote.Operation, cfg Config) *Service {
	if cfg.Poll == (remote.PollConfig{}) {
		cfg.Poll = remote.DefaultPollConfig()
	}
	return &Service{
		migrations: migrations,
		scheduler:  sched,
		reports:    reports,
		store:      store,
		download:   download,
		config:     cfg,
		logger:     GetLogger(),
	}
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.config }

// Store returns the object store files are uploaded to.
func (s *Service) Store() storage.ObjectStore { return s.store }

// Reports returns the report manager the service writes to.
func (s *Service) Reports() *upload.ReportManager { return s.reports }

// IsRunning reports whether the migration is in the copy wait stage.
func (s *Service) IsRunning(ctx context.Context) bool {
	current, err := s.migrations.CurrentStage(ctx)
	return err == nil && current == stage.FSMigrationCopyWait
}

// Report returns the current filesystem report.
func (s *Service) Report() (*upload.Report, bool) {
	return s.reports.CurrentReport(upload.KindFilesystem)
}

// ScheduleMigration schedules the job. The migration must be in fs_migration_copy.
func (s *Service) ScheduleMigration(ctx context.Context) (bool, error) {
	if err := s.migrations.AssertCurrentStage(ctx, stage.FSMigrationCopy); err != nil {
		return false, err
	}

	if err := s.scheduler.Schedule(JobKey, scheduler.JobFunc(s.RunJob), scheduler.NoRetry()); err != nil {
		s.logger.Error("failed to schedule filesystem migration job", logger.Error(err))
		if failErr := s.migrations.Error(ctx, scheduleFailureMessage); failErr != nil {
			return false, errors.Join(err, failErr)
		}
		return false, nil
	}
	return true, nil
}

// RunJob is the scheduler entry point.
func (s *Service) RunJob(ctx context.Context, _ scheduler.Request) scheduler.Response {
	if err := s.StartMigration(ctx); err != nil {
		if ctx.Err() != nil {
			return scheduler.ResponseAborted
		}
		return scheduler.ResponseFailed
	}
	return scheduler.ResponseSuccess
}

// StartMigration copies the home directory and blocks until the target has
// downloaded it. It returns immediately when a copy is already running.
func (s *Service) StartMigration(ctx context.Context) error {
	if s.IsRunning(ctx) {
		s.logger.Warn("filesystem migration already in progress, ignoring new execution")
		return nil
	}

	if err := s.migrations.TransitionFrom(ctx, stage.FSMigrationCopy, stage.FSMigrationCopyWait); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	report := s.reports.ResetReport(upload.KindFilesystem)
	s.mu.Lock()
	s.cancel = cancel
	s.report = report
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	start := time.Now()
	s.logger.Info("commencing upload of home directory", logger.String("home", s.config.HomeDir))

	err := s.copyHome(runCtx, report)
	if err == nil {
		report.SetStatus(upload.StatusDone)
		s.logger.Info("filesystem migration complete",
			logger.Int64("uploaded", report.Uploaded()),
			logger.Int64("downloaded", report.Downloaded()),
			logger.Int("failed", report.FailureCount()),
			logger.Duration("elapsed", time.Since(start)))
		return s.migrations.TransitionFrom(ctx, stage.FSMigrationCopyWait, stage.OfflineWarning)
	}

	report.SetStatus(upload.StatusFailed)
	if runCtx.Err() != nil {
		// AbortMigration owns the stage change.
		s.logger.Warn("filesystem migration cancelled", logger.Error(err))
		return err
	}

	s.logger.Error("critical error during filesystem migration", logger.Error(err))
	if failErr := s.migrations.Error(ctx, err.Error()); failErr != nil {
		s.logger.Error("failed to record filesystem migration failure", logger.Error(failErr))
	}
	return err
}

func (s *Service) copyHome(ctx context.Context, report *upload.Report) error {
	report.SetStatus(upload.StatusRunning)

	files, err := NewCrawler(s.config.HomeDir).Crawl(ctx, report)
	if err != nil {
		return migration.NewFileSystemMigrationFailure("unable to list the home directory", err)
	}

	queue := upload.NewQueue[string](len(files))
	for _, f := range files {
		if err := queue.Put(f); err != nil {
			return migration.NewFileSystemMigrationFailure("unable to queue files for upload", err)
		}
	}

	uploader := upload.NewUploader(s.store, report, s.config.uploaderOptions()...)
	if err := uploader.Upload(ctx, queue); err != nil {
		return migration.NewFileSystemMigrationFailure("unable to upload the home directory", err)
	}

	s.logger.Info("upload of home directory complete, commencing download")
	report.SetStatus(upload.StatusDownloading)
	return s.runDownload(ctx, report)
}

func (s *Service) runDownload(ctx context.Context, report *upload.Report) error {
	if s.download == nil {
		report.ReportDownloaded(report.Uploaded())
		return nil
	}

	if _, err := s.download.Start(ctx); err != nil {
		return migration.NewFileSystemMigrationFailure("unable to start the download on the target", err)
	}
	status, err := remote.Await(ctx, s.download, s.config.Poll)
	if err != nil {
		return err
	}

	out, outErr := s.download.FetchLastOutput(ctx)
	if status != remote.StatusSuccess {
		msg := "download on the target failed"
		if outErr == nil && out.Stderr != "" {
			msg += ": " + strings.TrimSpace(out.Stderr)
		}
		return migration.NewFileSystemMigrationFailure(msg, errors.Newf("download finished with status %s", status).
			Component("fsmigration").
			Category(errors.CategoryRemote).
			Build())
	}

	report.ReportDownloaded(downloadedCount(out.Stdout, report.Uploaded()))
	return nil
}

// downloadedCount reads the file count the download command prints on its
// last output line, falling back to the uploaded count.
func downloadedCount(stdout string, fallback int64) int64 {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if n, err := strconv.ParseInt(last, 10, 64); err == nil && n >= 0 {
		return n
	}
	return fallback
}

// AbortMigration stops a running copy and moves the migration to error.
// It always removes the scheduled job first.
func (s *Service) AbortMigration(ctx context.Context) error {
	s.scheduler.Unschedule(JobKey)

	if !s.IsRunning(ctx) {
		current, err := s.migrations.CurrentStage(ctx)
		if err != nil {
			return err
		}
		return migration.InvalidStageError("cancelling the filesystem migration", current)
	}

	s.logger.Warn("aborting running filesystem migration")

	s.mu.Lock()
	cancel, report := s.cancel, s.report
	s.mu.Unlock()

	if report != nil {
		report.SetStatus(upload.StatusFailed)
	}
	if cancel != nil {
		cancel()
	}
	if s.download != nil {
		if err := s.download.Cancel(ctx); err != nil && !errors.Is(err, remote.ErrNotStarted) {
			s.logger.Warn("failed to cancel download on the target", logger.Error(err))
		}
	}

	return s.migrations.Error(ctx, abortedMessage)
}
