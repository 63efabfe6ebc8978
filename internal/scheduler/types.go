// Package scheduler runs long lived host jobs, each keyed by name, in their
// own goroutine with optional retry of failed runs.
package scheduler

import (
	"context"
	"time"

	"github.com/tphakala/migration-assistant/internal/errors"
)

// Common errors that can be returned by scheduler operations
var (
	ErrNilJob           = errors.NewStd("cannot schedule nil job")
	ErrSchedulerStopped = errors.NewStd("scheduler has been stopped")
	ErrJobExists        = errors.NewStd("job is already scheduled")
	ErrSchedulerFull    = errors.NewStd("scheduler is full")
)

// Response is the tri-state outcome of a job run.
type Response int

const (
	// ResponseSuccess means the run completed its work.
	ResponseSuccess Response = iota
	// ResponseFailed means the run failed and may be retried.
	ResponseFailed
	// ResponseAborted means the run did not do any work, for example because
	// another run of the same job was still active. It is never retried.
	ResponseAborted
)

// String returns a string representation of the response
func (r Response) String() string {
	switch r {
	case ResponseSuccess:
		return "success"
	case ResponseFailed:
		return "failed"
	case ResponseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Request describes one run of a job.
type Request struct {
	Key         string
	Attempt     int // starts at 1
	TraceID     string
	ScheduledAt time.Time
}

// Job is the unit of work run by the scheduler.
type Job interface {
	RunJob(ctx context.Context, req Request) Response
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context, req Request) Response

// RunJob calls f.
func (f JobFunc) RunJob(ctx context.Context, req Request) Response { return f(ctx, req) }

// RetryConfig holds the configuration for retry behavior of a job
type RetryConfig struct {
	Enabled      bool          // Whether failed runs are retried
	MaxRetries   int           // Maximum number of retry attempts
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Backoff multiplier for each subsequent retry
}

// NoRetry runs a job once.
func NoRetry() RetryConfig { return RetryConfig{} }

// JobStatus represents the current status of a scheduled job
type JobStatus int

const (
	JobStatusPending JobStatus = iota
	JobStatusRunning
	JobStatusRetrying
)

// String returns a string representation of the job status
func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "pending"
	case JobStatusRunning:
		return "running"
	case JobStatusRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Scheduled   int
	Active      int
	Successful  int
	Failed      int
	Aborted     int
	Retries     int
	Unscheduled int
	Panics      int
}

// Metrics receives job outcomes.
type Metrics interface {
	RecordJob(key, response string, duration time.Duration)
}
