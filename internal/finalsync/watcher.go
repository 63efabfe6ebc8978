// Package finalsync uploads the files changed since the bulk copy and waits
// for the target to consume them before the migration is validated.
package finalsync

import (
	"context"
	"time"

	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/migration"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
)

// Watcher defaults.
const (
	DefaultPollInitialDelay = 5 * time.Second
	DefaultPollMaxDelay     = time.Minute
	DefaultDrainTimeout     = 2 * time.Hour
)

const drainTimeoutMessage = "timed out waiting for remote queue to drain"

// QueueDepth reports the messages of the remote queue the target consumes.
type QueueDepth interface {
	ApproximateDepth(ctx context.Context, queueURL string) (visible, inFlight int64, err error)
}

// DrainMetrics receives the observed queue depth and the time spent waiting.
type DrainMetrics interface {
	SetQueueDepth(depth int64)
	ObserveDrainWait(d time.Duration)
}

// WatcherConfig configures the queue watcher.
type WatcherConfig struct {
	PollInitialDelay time.Duration
	PollMaxDelay     time.Duration
	DrainTimeout     time.Duration
	// QueueURL overrides the queue URL stored on the migration context.
	QueueURL string
	Metrics  DrainMetrics
}

func (c WatcherConfig) withDefaults() WatcherConfig {
	if c.PollInitialDelay <= 0 {
		c.PollInitialDelay = DefaultPollInitialDelay
	}
	if c.PollMaxDelay <= 0 {
		c.PollMaxDelay = DefaultPollMaxDelay
	}
	if c.PollMaxDelay < c.PollInitialDelay {
		c.PollMaxDelay = c.PollInitialDelay
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// QueueWatcher waits until the database migration reached final_sync_wait
// and the remote queue is empty.
type QueueWatcher struct {
	migrations *migration.Service
	depth      QueueDepth
	config     WatcherConfig
	logger     logger.Logger
}

// NewQueueWatcher creates a watcher over depth.
func NewQueueWatcher(migrations *migration.Service, depth QueueDepth, cfg WatcherConfig) *QueueWatcher {
	return &QueueWatcher{
		migrations: migrations,
		depth:      depth,
		config:     cfg.withDefaults(),
		logger:     GetLogger().Module("watcher"),
	}
}

// QueueURL returns the URL of the watched queue.
func (w *QueueWatcher) QueueURL(ctx context.Context) string {
	if w.config.QueueURL != "" {
		return w.config.QueueURL
	}
	mc, err := w.migrations.GetContext(ctx)
	if err != nil {
		return ""
	}
	return mc.MigrationQueueURL
}

// Depth returns visible plus in-flight messages of the watched queue.
func (w *QueueWatcher) Depth(ctx context.Context) (int64, error) {
	visible, inFlight, err := w.depth.ApproximateDepth(ctx, w.QueueURL(ctx))
	if err != nil {
		return 0, err
	}
	if w.config.Metrics != nil {
		w.config.Metrics.SetQueueDepth(visible + inFlight)
	}
	return visible + inFlight, nil
}

// AwaitQueueDrain blocks until the queue drained while the migration is in
// final_sync_wait, and then moves it to validate. It returns false when the
// migration fails meanwhile, when ctx is done, or when the drain timeout
// passes; the timeout also moves the migration to final_sync_error.
func (w *QueueWatcher) AwaitQueueDrain(ctx context.Context) bool {
	start := time.Now()
	defer func() {
		if w.config.Metrics != nil {
			w.config.Metrics.ObserveDrainWait(time.Since(start))
		}
	}()

	deadline := time.NewTimer(w.config.DrainTimeout)
	defer deadline.Stop()

	delay := w.config.PollInitialDelay
	for {
		drained, done := w.poll(ctx)
		if done {
			return drained
		}

		select {
		case <-ctx.Done():
			w.logger.Warn("stopped waiting for remote queue", logger.Error(ctx.Err()))
			return false
		case <-deadline.C:
			return w.timeout(ctx)
		case <-time.After(delay):
		}
		delay = min(delay*2, w.config.PollMaxDelay)
	}
}

// poll checks the stage and the queue once. done is true when waiting is over.
func (w *QueueWatcher) poll(ctx context.Context) (drained, done bool) {
	current, err := w.migrations.CurrentStage(ctx)
	if err != nil {
		w.logger.Warn("unable to read migration stage", logger.Error(err))
		return false, false
	}

	switch {
	case current.IsErrorStage():
		w.logger.Warn("migration failed while waiting for remote queue", logger.String("stage", string(current)))
		return false, true
	case current.IsDBPhase():
		w.logger.Debug("waiting for database migration", logger.String("stage", string(current)))
		return false, false
	case current != stage.FinalSyncWait:
		w.logger.Warn("migration left the final sync unexpectedly", logger.String("stage", string(current)))
		return false, true
	}

	depth, err := w.Depth(ctx)
	if err != nil {
		w.logger.Warn("unable to read remote queue depth", logger.Error(err))
		return false, false
	}
	if depth > 0 {
		w.logger.Debug("remote queue not drained", logger.Int64("depth", depth))
		return false, false
	}

	if err := w.migrations.TransitionFrom(ctx, stage.FinalSyncWait, stage.Validate); err != nil {
		w.logger.Error("unable to move migration to validate", logger.Error(err))
		return false, true
	}
	w.logger.Info("remote queue drained")
	return true, true
}

func (w *QueueWatcher) timeout(ctx context.Context) bool {
	w.logger.Error(drainTimeoutMessage, logger.Duration("timeout", w.config.DrainTimeout))
	if err := w.migrations.Fail(ctx, stage.FinalSyncError, drainTimeoutMessage); err != nil {
		w.logger.Error("unable to record drain timeout", logger.Error(err))
	}
	return false
}
