package migration

import (
	"fmt"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
)

var (
	// ErrInvalidMigrationStage is returned when an operation is not allowed in the current stage.
	ErrInvalidMigrationStage = errors.NewStd("invalid migration stage")

	// ErrMigrationAlreadyExists is returned when creating a migration while one is in progress.
	ErrMigrationAlreadyExists = errors.NewStd("migration already exists")

	// ErrNoActiveMigration is returned when an operation needs a migration and none exists.
	ErrNoActiveMigration = errors.NewStd("no active migration")
)

// invalidStageError wraps ErrInvalidMigrationStage with the attempted change.
func invalidStageError(from, to stage.Stage) error {
	return errors.New(fmt.Errorf("cannot move from stage %s to %s: %w", from, to, ErrInvalidMigrationStage)).
		Component("migration").
		Category(errors.CategoryState).
		Context("from", string(from)).
		Context("to", string(to)).
		Build()
}

// unexpectedStageError reports an assertion on the current stage that failed.
func unexpectedStageError(want, got stage.Stage) error {
	return errors.New(fmt.Errorf("expected stage %s, current stage is %s: %w", want, got, ErrInvalidMigrationStage)).
		Component("migration").
		Category(errors.CategoryState).
		Context("expected", string(want)).
		Context("current", string(got)).
		Build()
}

// InvalidStageError reports that operation is not allowed in stage current.
func InvalidStageError(operation string, current stage.Stage) error {
	return errors.New(fmt.Errorf("%s is not allowed in stage %s: %w", operation, current, ErrInvalidMigrationStage)).
		Component("migration").
		Category(errors.CategoryState).
		Context("operation", operation).
		Context("current", string(current)).
		Build()
}

// FileSystemMigrationFailure wraps a failure of the file copy phases.
type FileSystemMigrationFailure struct {
	Msg   string
	Cause error
}

func (e *FileSystemMigrationFailure) Error() string {
	if e.Cause == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Cause.Error()
}

func (e *FileSystemMigrationFailure) Unwrap() error { return e.Cause }

// ErrorCategory implements errors.CategorizedError.
func (e *FileSystemMigrationFailure) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryFileIO
}

// NewFileSystemMigrationFailure builds an enhanced FileSystemMigrationFailure.
func NewFileSystemMigrationFailure(msg string, cause error) error {
	return errors.New(&FileSystemMigrationFailure{Msg: msg, Cause: cause}).
		Component("fsmigration").
		Category(errors.CategoryFileIO).
		Build()
}

// DatabaseMigrationFailure wraps a failure of the database export, upload or restore.
type DatabaseMigrationFailure struct {
	Msg   string
	Cause error
}

func (e *DatabaseMigrationFailure) Error() string {
	if e.Cause == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Cause.Error()
}

func (e *DatabaseMigrationFailure) Unwrap() error { return e.Cause }

// ErrorCategory implements errors.CategorizedError.
func (e *DatabaseMigrationFailure) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryDatabase
}

// NewDatabaseMigrationFailure builds an enhanced DatabaseMigrationFailure.
func NewDatabaseMigrationFailure(msg string, cause error) error {
	return errors.New(&DatabaseMigrationFailure{Msg: msg, Cause: cause}).
		Component("dbmigration").
		Category(errors.CategoryDatabase).
		Build()
}
