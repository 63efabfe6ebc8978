package finalsync

import (
	"context"

	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/scheduler"
	"github.com/tphakala/migration-assistant/internal/upload"
)

// JobKey is the scheduler key of the final sync job.
const JobKey = "final-sync"

// Scheduler is the subset of the host scheduler the service uses.
type Scheduler interface {
	Schedule(key string, job scheduler.Job, cfg scheduler.RetryConfig) error
	Unschedule(key string) bool
}

// SyncStatus summarizes the final sync.
type SyncStatus struct {
	UploadedFileCount int64 `json:"uploadedFileCount"`
	EnqueuedFileCount int64 `json:"enqueuedFileCount"`
	FailedFileCount   int64 `json:"failedFileCount"`
}

// Service schedules the final sync job and reports its progress.
type Service struct {
	scheduler Scheduler
	runner    scheduler.Job
	watcher   *QueueWatcher
	reports   *upload.ReportManager
	logger    logger.Logger
}

// NewService creates the final sync service.
func NewService(sched Scheduler, runner scheduler.Job, watcher *QueueWatcher, reports *upload.ReportManager) *Service {
	return &Service{
		scheduler: sched,
		runner:    runner,
		watcher:   watcher,
		reports:   reports,
		logger:    GetLogger(),
	}
}

// ScheduleSync registers the runner. It returns false if the job is already
// scheduled or the scheduler does not accept jobs.
func (s *Service) ScheduleSync(_ context.Context) bool {
	if err := s.scheduler.Schedule(JobKey, s.runner, scheduler.NoRetry()); err != nil {
		s.logger.Warn("unable to schedule final sync", logger.Error(err))
		return false
	}
	s.logger.Info("final sync scheduled")
	return true
}

// AbortMigration removes the final sync job.
func (s *Service) AbortMigration(_ context.Context) {
	if s.scheduler.Unschedule(JobKey) {
		s.logger.Info("final sync job removed")
	}
}

// Status returns the upload counts of the current final sync and the depth
// of the remote queue. A depth that cannot be read is reported as zero.
func (s *Service) Status(ctx context.Context) SyncStatus {
	var status SyncStatus
	if report, ok := s.reports.CurrentReport(upload.KindFinalSync); ok {
		status.UploadedFileCount = report.Uploaded()
		status.FailedFileCount = int64(report.FailureCount())
	}
	if s.watcher != nil {
		depth, err := s.watcher.Depth(ctx)
		if err != nil {
			s.logger.Warn("unable to read remote queue depth", logger.Error(err))
		}
		status.EnqueuedFileCount = depth
	}
	return status
}
