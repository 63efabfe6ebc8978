package datastore

import (
	"context"
	"fmt"

	"github.com/tphakala/migration-assistant/internal/datastore/entities"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
	"gorm.io/gorm"
)

// GormStore implements Store on top of a Manager.
// Stage changes use conditional UPDATEs so concurrent writers cannot both win.
type GormStore struct {
	manager Manager
	db      *gorm.DB
}

// NewGormStore wraps an initialized manager.
func NewGormStore(manager Manager) *GormStore {
	return &GormStore{manager: manager, db: manager.DB()}
}

// Open builds the manager for the configured database type and runs the schema migration.
func Open(cfg *Config) (*GormStore, error) {
	var (
		manager Manager
		err     error
	)

	switch cfg.Type {
	case TypeMySQL:
		manager, err = NewMySQLManager(&cfg.MySQL)
	case TypeSQLite, "":
		manager, err = NewSQLiteManager(cfg.SQLitePath)
	default:
		return nil, errors.Newf("unsupported datastore type %q", cfg.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, err
	}

	if err := manager.Initialize(); err != nil {
		_ = manager.Close()
		return nil, err
	}

	GetLogger().Info("datastore opened",
		logger.String("location", manager.Path()),
		logger.Bool("mysql", manager.IsMySQL()))

	return NewGormStore(manager), nil
}

func autoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&entities.Migration{},
		&entities.MigrationContext{},
		&entities.FileSyncRecord{},
	); err != nil {
		return dbError(fmt.Errorf("failed to migrate schema: %w", err), "auto_migrate")
	}
	return nil
}

// ActiveMigration returns the newest migration that is not finished.
func (s *GormStore) ActiveMigration(ctx context.Context) (*entities.Migration, error) {
	var m entities.Migration
	err := s.db.WithContext(ctx).
		Preload("Context").
		Where("stage <> ?", stage.Finished).
		Order("id DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("active migration", "-")
	}
	if err != nil {
		return nil, dbError(err, "active_migration")
	}
	return &m, nil
}

// CreateMigration inserts m and its context in one transaction.
func (s *GormStore) CreateMigration(ctx context.Context, m *entities.Migration) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return dbError(err, "create_migration")
	}
	return nil
}

// UpdateStage sets the stage unconditionally.
func (s *GormStore) UpdateStage(ctx context.Context, migrationID uint, to stage.Stage) error {
	result := s.db.WithContext(ctx).
		Model(&entities.Migration{}).
		Where("id = ?", migrationID).
		Update("stage", to)
	if result.Error != nil {
		return dbError(result.Error, "update_stage", "migration_id", migrationID, "to", string(to))
	}
	if result.RowsAffected == 0 {
		return notFoundError("migration", migrationID)
	}
	return nil
}

// CompareAndSwapStage sets the stage to `to` only when the stored stage is `from`.
func (s *GormStore) CompareAndSwapStage(ctx context.Context, migrationID uint, from, to stage.Stage) error {
	result := s.db.WithContext(ctx).
		Model(&entities.Migration{}).
		Where("id = ? AND stage = ?", migrationID, from).
		Update("stage", to)
	if result.Error != nil {
		return dbError(result.Error, "compare_and_swap_stage", "migration_id", migrationID, "from", string(from), "to", string(to))
	}

	if result.RowsAffected == 0 {
		var current entities.Migration
		if err := s.db.WithContext(ctx).Select("id", "stage").First(&current, migrationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundError("migration", migrationID)
			}
			return dbError(err, "compare_and_swap_stage")
		}
		return stageMismatchError(migrationID, string(from), string(current.Stage))
	}
	return nil
}

// GetContext returns the context of a migration.
func (s *GormStore) GetContext(ctx context.Context, migrationID uint) (*entities.MigrationContext, error) {
	var mc entities.MigrationContext
	err := s.db.WithContext(ctx).Where("migration_id = ?", migrationID).First(&mc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("migration context", migrationID)
	}
	if err != nil {
		return nil, dbError(err, "get_context", "migration_id", migrationID)
	}
	return &mc, nil
}

// SaveContext writes every column of mc.
func (s *GormStore) SaveContext(ctx context.Context, mc *entities.MigrationContext) error {
	if err := s.db.WithContext(ctx).Save(mc).Error; err != nil {
		return dbError(err, "save_context", "migration_id", mc.MigrationID)
	}
	return nil
}

// AppendFileSyncRecord records a changed path.
func (s *GormStore) AppendFileSyncRecord(ctx context.Context, migrationID uint, path string) error {
	rec := entities.FileSyncRecord{MigrationID: migrationID, Path: path}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return dbError(err, "append_file_sync_record", "migration_id", migrationID)
	}
	return nil
}

// DrainFileSyncRecords reads and deletes the recorded paths in one transaction.
func (s *GormStore) DrainFileSyncRecords(ctx context.Context, migrationID uint) ([]string, error) {
	var paths []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []entities.FileSyncRecord
		if err := tx.Where("migration_id = ?", migrationID).Order("id ASC").Find(&records).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		ids := make([]uint, len(records))
		paths = make([]string, len(records))
		for i := range records {
			ids[i] = records[i].ID
			paths[i] = records[i].Path
		}
		return tx.Where("id IN ?", ids).Delete(&entities.FileSyncRecord{}).Error
	})
	if err != nil {
		return nil, dbError(err, "drain_file_sync_records", "migration_id", migrationID)
	}
	return paths, nil
}

// DeleteAll removes every row from the migration tables.
func (s *GormStore) DeleteAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&entities.FileSyncRecord{}, &entities.MigrationContext{}, &entities.Migration{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dbError(err, "delete_all")
	}
	return nil
}

// Close closes the underlying connection.
func (s *GormStore) Close() error {
	return s.manager.Close()
}

var _ Store = (*GormStore)(nil)
