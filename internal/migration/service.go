// Package migration implements the stage machine that gates every migration operation.
package migration

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tphakala/migration-assistant/internal/datastore"
	"github.com/tphakala/migration-assistant/internal/datastore/entities"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
)

// maxErrorMessageLength bounds the stored error message
const maxErrorMessageLength = 450

// TransitionEvent describes a committed stage change.
type TransitionEvent struct {
	MigrationID uint
	From        stage.Stage
	To          stage.Stage
	Message     string // set for error stages
	At          time.Time
}

// StageListener is notified after every committed stage change.
type StageListener interface {
	OnStageTransition(ctx context.Context, ev TransitionEvent)
}

// MetricsRecorder receives stage transition metrics.
type MetricsRecorder interface {
	RecordStageTransition(from, to string)
	SetCurrentStage(ordinal int)
}

// Option configures a Service.
type Option func(*Service)

// WithReuseInfrastructure makes FinishCurrentMigration start a successor
// migration on the already provisioned resources.
func WithReuseInfrastructure(reuse bool) Option {
	return func(s *Service) { s.reuseInfrastructure = reuse }
}

// WithListener registers a stage listener.
func WithListener(l StageListener) Option {
	return func(s *Service) { s.listeners = append(s.listeners, l) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the stage machine. Every stage change goes through the store's
// conditional write, so a change decided on a stale read is rejected.
type Service struct {
	store               datastore.Store
	reuseInfrastructure bool
	listeners           []StageListener
	metrics             MetricsRecorder
	now                 func() time.Time
	logger              logger.Logger

	mu sync.Mutex // serializes read-check-write sequences in this process
}

// NewService creates a stage machine over store.
func NewService(store datastore.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		logger: GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddListener registers a stage listener after construction.
func (s *Service) AddListener(l StageListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// CurrentStage returns the active migration's stage, or not_started when none exists.
func (s *Service) CurrentStage(ctx context.Context) (stage.Stage, error) {
	m, err := s.store.ActiveMigration(ctx)
	if errors.Is(err, datastore.ErrNotFound) {
		return stage.NotStarted, nil
	}
	if err != nil {
		return "", err
	}
	return m.Stage, nil
}

// CurrentMigration returns the active migration or ErrNoActiveMigration.
func (s *Service) CurrentMigration(ctx context.Context) (*entities.Migration, error) {
	m, err := s.store.ActiveMigration(ctx)
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, ErrNoActiveMigration
	}
	return m, err
}

// CreateMigration starts a new migration at not_started. It fails while any
// migration is active, including one that has not started yet.
func (s *Service) CreateMigration(ctx context.Context) (*entities.Migration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.ActiveMigration(ctx)
	switch {
	case err == nil:
		return nil, errors.New(ErrMigrationAlreadyExists).
			Component("migration").
			Category(errors.CategoryConflict).
			Context("migration_id", existing.ID).
			Context("stage", string(existing.Stage)).
			Build()
	case err != nil && !errors.Is(err, datastore.ErrNotFound):
		return nil, err
	}

	m := &entities.Migration{Stage: stage.NotStarted}
	if err := s.store.CreateMigration(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("migration created", logger.Int64("migration_id", int64(m.ID)))
	return m, nil
}

// Transition moves the active migration to `to` if the edge exists.
func (s *Service) Transition(ctx context.Context, to stage.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.CurrentMigration(ctx)
	if err != nil {
		return err
	}
	return s.swapLocked(ctx, m.ID, m.Stage, to, "")
}

// TransitionFrom moves the active migration from `from` to `to`. It fails if
// the current stage is not `from` at the moment of the write.
func (s *Service) TransitionFrom(ctx context.Context, from, to stage.Stage) error {
	if !from.IsValidTransition(to) {
		return invalidStageError(from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.CurrentMigration(ctx)
	if err != nil {
		return err
	}
	return s.swapLocked(ctx, m.ID, from, to, "")
}

// swapLocked performs the guarded write. Caller holds s.mu.
func (s *Service) swapLocked(ctx context.Context, migrationID uint, from, to stage.Stage, message string) error {
	if !from.IsValidTransition(to) {
		return invalidStageError(from, to)
	}

	if err := s.store.CompareAndSwapStage(ctx, migrationID, from, to); err != nil {
		if errors.Is(err, datastore.ErrStageMismatch) {
			return invalidStageError(from, to)
		}
		return err
	}

	s.logger.Info("stage transition",
		logger.Int64("migration_id", int64(migrationID)),
		logger.String("from", string(from)),
		logger.String("to", string(to)))

	if s.metrics != nil {
		s.metrics.RecordStageTransition(string(from), string(to))
		s.metrics.SetCurrentStage(to.Ordinal())
	}

	ev := TransitionEvent{MigrationID: migrationID, From: from, To: to, Message: message, At: s.now()}
	for _, l := range s.listeners {
		l.OnStageTransition(ctx, ev)
	}
	return nil
}

// AssertCurrentStage fails with ErrInvalidMigrationStage unless the current stage is want.
func (s *Service) AssertCurrentStage(ctx context.Context, want stage.Stage) error {
	current, err := s.CurrentStage(ctx)
	if err != nil {
		return err
	}
	if current != want {
		return unexpectedStageError(want, current)
	}
	return nil
}

// Error moves the migration to the error stage and records msg.
func (s *Service) Error(ctx context.Context, msg string) error {
	return s.Fail(ctx, stage.Error, msg)
}

// Fail moves the migration to one of the error stages and records msg, truncated
// to 450 characters, together with the end time. Failing into the stage the
// migration is already in only updates the message.
func (s *Service) Fail(ctx context.Context, errorStage stage.Stage, msg string) error {
	if !errorStage.IsErrorStage() {
		return errors.Newf("%s is not an error stage", errorStage).
			Component("migration").
			Category(errors.CategoryValidation).
			Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.CurrentMigration(ctx)
	if err != nil {
		return err
	}

	msg = truncate(msg, maxErrorMessageLength)

	if m.Stage != errorStage {
		if err := s.swapLocked(ctx, m.ID, m.Stage, errorStage, msg); err != nil {
			return err
		}
	}

	s.logger.Error("migration failed",
		logger.Int64("migration_id", int64(m.ID)),
		logger.String("stage", string(errorStage)),
		logger.String("message", msg))

	return s.updateContextLocked(ctx, m.ID, func(mc *entities.MigrationContext) error {
		mc.ErrorMessage = msg
		mc.EndEpoch = s.now().Unix()
		return nil
	})
}

// FinishCurrentMigration moves the migration to finished. With infrastructure
// reuse enabled it also creates a successor at fs_migration_copy that carries
// the provisioned resource identifiers.
func (s *Service) FinishCurrentMigration(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.CurrentMigration(ctx)
	if err != nil {
		return err
	}
	finishedCtx, err := s.store.GetContext(ctx, m.ID)
	if err != nil {
		return err
	}

	if err := s.swapLocked(ctx, m.ID, m.Stage, stage.Finished, ""); err != nil {
		return err
	}

	if !s.reuseInfrastructure {
		return nil
	}

	next := &entities.Migration{Stage: stage.FSMigrationCopy}
	next.Context.CopyResourcesFrom(finishedCtx)
	if err := s.store.CreateMigration(ctx, next); err != nil {
		return err
	}

	s.logger.Info("successor migration created",
		logger.Int64("finished_migration_id", int64(m.ID)),
		logger.Int64("migration_id", int64(next.ID)))
	return nil
}

// DeleteMigrations removes every migration, context and ledger entry.
func (s *Service) DeleteMigrations(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteAll(ctx); err != nil {
		return err
	}
	s.logger.Warn("all migrations deleted")
	return nil
}

// GetContext returns the active migration's context.
func (s *Service) GetContext(ctx context.Context) (*entities.MigrationContext, error) {
	m, err := s.CurrentMigration(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.GetContext(ctx, m.ID)
}

// UpdateContext applies fn to the active migration's context and saves it.
func (s *Service) UpdateContext(ctx context.Context, fn func(*entities.MigrationContext) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.CurrentMigration(ctx)
	if err != nil {
		return err
	}
	return s.updateContextLocked(ctx, m.ID, fn)
}

func (s *Service) updateContextLocked(ctx context.Context, migrationID uint, fn func(*entities.MigrationContext) error) error {
	mc, err := s.store.GetContext(ctx, migrationID)
	if err != nil {
		return err
	}
	if err := fn(mc); err != nil {
		return err
	}
	return s.store.SaveContext(ctx, mc)
}

// Store exposes the underlying store to collaborators that share it.
func (s *Service) Store() datastore.Store {
	return s.store
}

func truncate(msg string, limit int) string {
	if utf8.RuneCountInString(msg) <= limit {
		return msg
	}
	return string([]rune(msg)[:limit])
}
