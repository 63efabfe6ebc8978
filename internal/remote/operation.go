// Package remote abstracts long running operations that are started once and
// then polled, such as a database dump on this host or an SSM command on the
// migration stack.
package remote

import (
	"context"
	"time"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
)

// Status is the state of an operation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether the operation has stopped.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Output is what an operation printed on its last run.
type Output struct {
	CommandID string
	Status    Status
	Stdout    string
	Stderr    string
	ExitCode  int
}

// Operation is a started-then-polled unit of remote work.
type Operation interface {
	// Start launches the operation and returns its identifier.
	Start(ctx context.Context) (string, error)
	// PollStatus returns the current status without blocking on completion.
	PollStatus(ctx context.Context) (Status, error)
	// FetchLastOutput returns the output of the most recent run.
	FetchLastOutput(ctx context.Context) (Output, error)
	// Cancel stops a running operation. Cancelling a stopped one is a no-op.
	Cancel(ctx context.Context) error
}

// ErrNotStarted is returned by operations queried before Start.
var ErrNotStarted = errors.NewStd("operation has not been started")

// PollConfig controls Await.
type PollConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPollConfig polls every second at first and at most every 15 seconds.
func DefaultPollConfig() PollConfig {
	return PollConfig{InitialDelay: time.Second, MaxDelay: 15 * time.Second}
}

// Await polls op until it reaches a terminal status or ctx is done. Poll
// errors are logged and retried.
func Await(ctx context.Context, op Operation, cfg PollConfig) (Status, error) {
	delay := max(cfg.InitialDelay, time.Millisecond)
	maxDelay := max(cfg.MaxDelay, delay)
	log := GetLogger()

	for {
		status, err := op.PollStatus(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("polling operation status failed", logger.Error(err))
		case err == nil && status.IsTerminal():
			return status, nil
		}

		select {
		case <-ctx.Done():
			return StatusCancelled, errors.New(ctx.Err()).
				Component("remote").
				Category(errors.CategoryCancellation).
				Build()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxDelay)
	}
}
