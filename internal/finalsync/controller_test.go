package finalsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/migration-assistant/internal/dbmigration"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/migration"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
)

func TestController_Start_Accepted(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.OfflineWarning)
	db := &fakeDB{scheduleResult: true}
	fs := &fakeFS{scheduleResult: true}

	outcome, err := NewController(svc, db, fs).Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)
	assert.Equal(t, 1, db.scheduled)
	assert.Equal(t, 1, fs.scheduled)
	assert.Zero(t, db.aborted)
}

func TestController_Start_FileSyncRefusedAbortsDatabase(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.OfflineWarning)
	db := &fakeDB{scheduleResult: true}
	fs := &fakeFS{scheduleResult: false}

	outcome, err := NewController(svc, db, fs).Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Conflict, outcome)
	assert.Equal(t, 1, db.aborted)
}

func TestController_Start_DatabasePhaseInProgress(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.DBMigrationExportWait)
	db := &fakeDB{scheduleResult: true}
	fs := &fakeFS{scheduleResult: true}

	outcome, err := NewController(svc, db, fs).Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Conflict, outcome)
	assert.Zero(t, db.scheduled)
	assert.Zero(t, fs.scheduled)
}

func TestController_Start_DatabaseNotScheduled(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.OfflineWarning)
	db := &fakeDB{scheduleResult: false}
	fs := &fakeFS{scheduleResult: true}

	outcome, err := NewController(svc, db, fs).Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Conflict, outcome)
	assert.Zero(t, fs.scheduled)
}

func TestController_Start_WrongStage(t *testing.T) {
	svc, _ := newMigrations(t)
	db := &fakeDB{scheduleErr: migration.InvalidStageError("schedule database migration", stage.NotStarted)}
	fs := &fakeFS{scheduleResult: true}

	outcome, err := NewController(svc, db, fs).Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Conflict, outcome)
	assert.Zero(t, fs.scheduled)
}

func TestController_RetryFSSync_Accepted(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.FinalSyncWait)
	require.NoError(t, svc.Fail(context.Background(), stage.FinalSyncError, "upload failed"))
	fs := &fakeFS{scheduleResult: true}

	outcome, err := NewController(svc, &fakeDB{}, fs).RetryFSSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)
	assert.Equal(t, stage.FinalSyncWait, currentStage(t, svc))
	assert.Equal(t, 1, fs.scheduled)
}

func TestController_RetryFSSync_RefusedRestoresErrorStage(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.FinalSyncWait)
	require.NoError(t, svc.Fail(context.Background(), stage.FinalSyncError, "upload failed"))
	fs := &fakeFS{scheduleResult: false}

	outcome, err := NewController(svc, &fakeDB{}, fs).RetryFSSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Conflict, outcome)
	assert.Equal(t, stage.FinalSyncError, currentStage(t, svc))
}

func TestController_RetryFSSync_OutsideFinalSyncError(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.FinalSyncWait)
	fs := &fakeFS{scheduleResult: true}

	outcome, err := NewController(svc, &fakeDB{}, fs).RetryFSSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BadRequest, outcome)
	assert.Zero(t, fs.scheduled)
	assert.Equal(t, stage.FinalSyncWait, currentStage(t, svc))
}

func TestController_RetryDBMigration(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.FinalSyncWait)
	require.NoError(t, svc.Transition(context.Background(), stage.FinalSyncError))

	db := &fakeDB{scheduleResult: true}
	outcome, err := NewController(svc, db, &fakeFS{}).RetryDBMigration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)
	assert.Equal(t, 1, db.scheduled)

	db.scheduleResult = false
	outcome, err = NewController(svc, db, &fakeFS{}).RetryDBMigration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Conflict, outcome)
}

func TestController_RetryDBMigration_OutsideFinalSyncError(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.OfflineWarning)
	db := &fakeDB{scheduleResult: true}

	outcome, err := NewController(svc, db, &fakeFS{}).RetryDBMigration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BadRequest, outcome)
	assert.Zero(t, db.scheduled)
}

func TestController_Abort(t *testing.T) {
	svc, _ := newMigrations(t)
	db := &fakeDB{}
	fs := &fakeFS{}

	cancelled, err := NewController(svc, db, fs).Abort(context.Background())
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, 1, db.aborted)
	assert.Equal(t, 1, fs.aborted)
}

func TestController_Abort_NothingRunning(t *testing.T) {
	svc, _ := newMigrations(t)
	db := &fakeDB{abortErr: migration.InvalidStageError("abort database migration", stage.OfflineWarning)}
	fs := &fakeFS{}

	cancelled, err := NewController(svc, db, fs).Abort(context.Background())
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, 1, fs.aborted)
}

func TestController_Abort_Failure(t *testing.T) {
	svc, _ := newMigrations(t)
	boom := errors.NewStd("store unavailable")
	fs := &fakeFS{}

	cancelled, err := NewController(svc, &fakeDB{abortErr: boom}, fs).Abort(context.Background())
	require.ErrorIs(t, err, boom)
	assert.False(t, cancelled)
	assert.Equal(t, 1, fs.aborted)
}

func TestController_Status(t *testing.T) {
	svc, _ := newMigrations(t)
	moveTo(t, svc, stage.FinalSyncWait)
	require.NoError(t, svc.Fail(context.Background(), stage.FinalSyncError, "queue did not drain"))

	db := &fakeDB{elapsed: 3 * time.Minute}
	fs := &fakeFS{status: SyncStatus{UploadedFileCount: 10, EnqueuedFileCount: 4, FailedFileCount: 2}}

	status, err := NewController(svc, db, fs).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Status{
		Stage:        stage.FinalSyncError,
		DB:           DBFailed,
		DBElapsed:    3 * time.Minute,
		FSUploaded:   10,
		FSDownloaded: 6,
		FSFailed:     2,
		ErrorMessage: "queue did not drain",
	}, status)
}

func TestController_DBLogs(t *testing.T) {
	svc, _ := newMigrations(t)
	_, err := NewController(svc, &fakeDB{}, &fakeFS{}).DBLogs(context.Background())
	assert.ErrorIs(t, err, dbmigration.ErrCommandNotInitialised)
}

func TestDBStatusOf(t *testing.T) {
	cases := map[stage.Stage]DBStatus{
		stage.OfflineWarning:          DBNotStarted,
		stage.DBMigrationExport:       DBExporting,
		stage.DBMigrationUploadWait:   DBUploading,
		stage.DataMigrationImportWait: DBImporting,
		stage.FinalSyncWait:           DBImporting,
		stage.Validate:                DBDone,
		stage.FinalSyncError:          DBFailed,
		stage.Error:                   DBFailed,
	}
	for s, want := range cases {
		assert.Equal(t, want, DBStatusOf(s), "stage %s", s)
	}
}
