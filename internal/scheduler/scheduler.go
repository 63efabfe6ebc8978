package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
)

// DefaultMaxJobs bounds the number of concurrently scheduled jobs.
const DefaultMaxJobs = 16

// entry is one scheduled job.
type entry struct {
	key     string
	job     Job
	config  RetryConfig
	status  JobStatus
	attempt int
	created time.Time
	cancel  context.CancelFunc
}

// Scheduler runs keyed jobs. A key can be scheduled again once its previous
// job has returned or been unscheduled.
type Scheduler struct {
	mu          sync.Mutex
	jobs        map[string]*entry
	isRunning   bool
	ctx         context.Context
	cancel      context.CancelFunc
	runningJobs sync.WaitGroup
	maxJobs     int
	stats       Stats
	metrics     Metrics
	logger      logger.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxJobs bounds the number of scheduled jobs.
func WithMaxJobs(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxJobs = n
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a stopped scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:    make(map[string]*entry),
		maxJobs: DefaultMaxJobs,
		logger:  GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start enables scheduling. Jobs run under a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true
	s.logger.Info("scheduler started", logger.Int("max_jobs", s.maxJobs))
}

// IsRunning reports whether the scheduler accepts jobs.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Stop cancels every job and waits up to timeout for them to return.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.runningJobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-time.After(timeout):
		return errors.Newf("timed out waiting for jobs to complete after %v", timeout).
			Component("scheduler").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// Schedule runs job under key in a new goroutine. It fails with
// ErrJobExists while a job with the same key is scheduled and with
// ErrSchedulerStopped when the scheduler is not running.
func (s *Scheduler) Schedule(key string, job Job, config RetryConfig) error {
	if job == nil {
		return ErrNilJob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return ErrSchedulerStopped
	}
	if _, exists := s.jobs[key]; exists {
		return errors.New(fmt.Errorf("%w: %s", ErrJobExists, key)).
			Component("scheduler").
			Category(errors.CategoryConflict).
			Context("job", key).
			Build()
	}
	if len(s.jobs) >= s.maxJobs {
		return errors.New(fmt.Errorf("%w: maximum of %d jobs reached", ErrSchedulerFull, s.maxJobs)).
			Component("scheduler").
			Category(errors.CategoryJobQueue).
			Build()
	}

	jobCtx, cancel := context.WithCancel(s.ctx)
	e := &entry{
		key:     key,
		job:     job,
		config:  config,
		status:  JobStatusPending,
		created: time.Now(),
		cancel:  cancel,
	}
	s.jobs[key] = e
	s.stats.Scheduled++

	s.runningJobs.Add(1)
	go func() {
		defer s.runningJobs.Done()
		s.run(jobCtx, e)
	}()

	s.logger.Debug("job scheduled", logger.String("job", key))
	return nil
}

// Unschedule cancels the job under key. It reports whether a job was found.
func (s *Scheduler) Unschedule(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[key]
	if !ok {
		return false
	}
	e.cancel()
	delete(s.jobs, key)
	s.stats.Unscheduled++
	s.logger.Info("job unscheduled", logger.String("job", key), logger.String("status", e.status.String()))
	return true
}

// IsScheduled reports whether a job is scheduled under key.
func (s *Scheduler) IsScheduled(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

// Status returns the status of the job under key.
func (s *Scheduler) Status(key string) (JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[key]
	if !ok {
		return 0, false
	}
	return e.status, true
}

// Wait blocks until every running job has returned or ctx is done. One-shot
// commands use it to run a scheduled job in the foreground.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runningJobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats returns a snapshot of the scheduler counters.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Active = len(s.jobs)
	return stats
}

// run executes e until it succeeds, aborts, runs out of retries or is cancelled.
func (s *Scheduler) run(ctx context.Context, e *entry) {
	defer s.finish(e)

	for {
		s.mu.Lock()
		e.attempt++
		e.status = JobStatusRunning
		attempt := e.attempt
		s.mu.Unlock()

		traceID := uuid.NewString()
		runCtx := logger.WithTraceID(ctx, traceID)
		req := Request{Key: e.key, Attempt: attempt, TraceID: traceID, ScheduledAt: e.created}

		start := time.Now()
		resp := s.execute(runCtx, e, req)
		s.record(e.key, resp, time.Since(start))

		if resp != ResponseFailed || !e.config.Enabled || attempt > e.config.MaxRetries || ctx.Err() != nil {
			return
		}

		delay := calculateBackoffDelay(e.config, attempt-1)
		s.mu.Lock()
		e.status = JobStatusRetrying
		s.stats.Retries++
		s.mu.Unlock()

		s.logger.Warn("job failed, will retry",
			logger.String("job", e.key),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", e.config.MaxRetries+1),
			logger.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// execute runs the job once and converts a panic into a failed response.
func (s *Scheduler) execute(ctx context.Context, e *entry, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.stats.Panics++
			s.mu.Unlock()
			s.logger.Error("job panicked",
				logger.String("job", e.key),
				logger.String("trace_id", req.TraceID),
				logger.Any("panic", r))
			resp = ResponseFailed
		}
	}()

	s.logger.WithContext(ctx).Debug("job started",
		logger.String("job", e.key),
		logger.Int("attempt", req.Attempt))
	return e.job.RunJob(ctx, req)
}

func (s *Scheduler) record(key string, resp Response, d time.Duration) {
	s.mu.Lock()
	switch resp {
	case ResponseSuccess:
		s.stats.Successful++
	case ResponseFailed:
		s.stats.Failed++
	case ResponseAborted:
		s.stats.Aborted++
	}
	s.mu.Unlock()

	s.logger.Info("job finished",
		logger.String("job", key),
		logger.String("response", resp.String()),
		logger.Duration("elapsed", d))
	if s.metrics != nil {
		s.metrics.RecordJob(key, resp.String(), d)
	}
}

// finish removes e unless it was unscheduled and replaced already.
func (s *Scheduler) finish(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.jobs[e.key]; ok && current == e {
		delete(s.jobs, e.key)
	}
	e.cancel()
}

// calculateBackoffDelay calculates the delay before the next retry attempt
func calculateBackoffDelay(config RetryConfig, attemptNum int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	backoff := float64(config.InitialDelay) * math.Pow(multiplier, float64(attemptNum))

	// Add some jitter (±10%)
	jitterFactor := 0.9 + 0.2*float64(time.Now().Nanosecond())/1e9
	backoff *= jitterFactor

	if config.MaxDelay > 0 && backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}
	return time.Duration(backoff)
}
