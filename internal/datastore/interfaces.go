// Package datastore persists migrations, their contexts and the file sync ledger.
package datastore

import (
	"context"

	"github.com/tphakala/migration-assistant/internal/datastore/entities"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
)

var (
	// ErrNotFound is returned when no active migration or context exists.
	ErrNotFound = errors.NewStd("record not found")

	// ErrStageMismatch is returned by CompareAndSwapStage when the stored stage
	// is not the expected one.
	ErrStageMismatch = errors.NewStd("stored stage does not match expected stage")
)

// Store abstracts the persistence used by the migration service.
type Store interface {
	// ActiveMigration returns the newest migration that is not finished.
	ActiveMigration(ctx context.Context) (*entities.Migration, error)

	// CreateMigration inserts m together with its context.
	CreateMigration(ctx context.Context, m *entities.Migration) error

	// UpdateStage sets the stage unconditionally.
	UpdateStage(ctx context.Context, migrationID uint, to stage.Stage) error

	// CompareAndSwapStage sets the stage to `to` only if it is currently `from`.
	CompareAndSwapStage(ctx context.Context, migrationID uint, from, to stage.Stage) error

	GetContext(ctx context.Context, migrationID uint) (*entities.MigrationContext, error)
	SaveContext(ctx context.Context, mc *entities.MigrationContext) error

	AppendFileSyncRecord(ctx context.Context, migrationID uint, path string) error

	// DrainFileSyncRecords returns and removes every recorded path in insertion order.
	DrainFileSyncRecords(ctx context.Context, migrationID uint) ([]string, error)

	// DeleteAll removes every migration, context and file sync record.
	DeleteAll(ctx context.Context) error

	Close() error
}
