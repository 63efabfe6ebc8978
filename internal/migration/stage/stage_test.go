package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_IsAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		stage Stage
		other Stage
		want  bool
	}{
		{"error after provisioning", Error, ProvisionApplication, true},
		{"validate after final sync wait", Validate, FinalSyncWait, true},
		{"stage is not after itself", FSMigrationCopyWait, FSMigrationCopyWait, false},
		{"export wait before final sync wait", DBMigrationExportWait, FinalSyncWait, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.stage.IsAfter(tt.other))
		})
	}
}

func TestStage_ErrorReachableFromNonTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range All() {
		if s == Finished || s == Error {
			continue
		}
		assert.True(t, s.IsValidTransition(Error), "expected %s -> error", s)
	}
	assert.False(t, Finished.IsValidTransition(Error))
	assert.Empty(t, Finished.ValidTransitions())
}

func TestStage_ForwardChain(t *testing.T) {
	t.Parallel()

	all := All()
	for i := 0; all[i] != Validate; i++ {
		assert.True(t, all[i].IsValidTransition(all[i+1]), "expected %s -> %s", all[i], all[i+1])
	}
	assert.True(t, Validate.IsValidTransition(Finished))
	assert.True(t, Validate.IsValidTransition(Cutover))
	assert.True(t, Cutover.IsValidTransition(Finished))
}

func TestStage_EveryStageReachable(t *testing.T) {
	t.Parallel()

	reached := map[Stage]bool{NotStarted: true}
	pending := []Stage{NotStarted}
	for len(pending) > 0 {
		s := pending[0]
		pending = pending[1:]
		for _, next := range s.ValidTransitions() {
			if !reached[next] {
				reached[next] = true
				pending = append(pending, next)
			}
		}
	}

	for _, s := range All() {
		assert.True(t, reached[s], "%s cannot be reached from %s", s, NotStarted)
	}
}

func TestStage_RetryEdges(t *testing.T) {
	t.Parallel()

	assert.True(t, ProvisioningError.IsValidTransition(ProvisionApplication))
	assert.True(t, FinalSyncError.IsValidTransition(FinalSyncWait))
	assert.True(t, FinalSyncError.IsValidTransition(DBMigrationExport))
	assert.True(t, Error.IsValidTransition(FSMigrationCopy))
	assert.True(t, OfflineWarning.IsValidTransition(FSMigrationCopy))
	assert.True(t, DataMigrationImportWait.IsValidTransition(FinalSyncWait))

	assert.False(t, Error.IsValidTransition(FinalSyncWait))
	assert.False(t, NotStarted.IsValidTransition(Validate))
	assert.False(t, FSMigrationCopyWait.IsValidTransition(FinalSyncError))
}

func TestStage_DBPhaseAbortEdges(t *testing.T) {
	t.Parallel()

	var dbPhases []Stage
	for _, s := range All() {
		if s.IsDBPhase() {
			dbPhases = append(dbPhases, s)
			assert.True(t, s.IsValidTransition(OfflineWarning), "expected %s -> offline_warning", s)
		}
	}
	assert.Equal(t, []Stage{
		DBMigrationExport, DBMigrationExportWait,
		DBMigrationUpload, DBMigrationUploadWait,
		DataMigrationImport, DataMigrationImportWait,
	}, dbPhases)
}

func TestStage_ProvisioningAndFinalSyncErrorWindows(t *testing.T) {
	t.Parallel()

	for _, s := range All() {
		wantProvisioning := s.Ordinal() >= ProvisionApplication.Ordinal() && s.Ordinal() <= ProvisionMigrationStackWait.Ordinal()
		assert.Equal(t, wantProvisioning, s.IsValidTransition(ProvisioningError), "provisioning_error from %s", s)

		wantFinalSync := s.Ordinal() >= OfflineWarning.Ordinal() && s.Ordinal() <= FinalSyncWait.Ordinal()
		assert.Equal(t, wantFinalSync, s.IsValidTransition(FinalSyncError), "final_sync_error from %s", s)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	s, err := Parse(" FINAL_SYNC_WAIT ")
	require.NoError(t, err)
	assert.Equal(t, FinalSyncWait, s)

	_, err = Parse("launch")
	require.Error(t, err)
	assert.False(t, Stage("launch").Valid())
	assert.Equal(t, -1, Stage("launch").Ordinal())
}

func TestStage_IsErrorStage(t *testing.T) {
	t.Parallel()

	assert.True(t, Error.IsErrorStage())
	assert.True(t, ProvisioningError.IsErrorStage())
	assert.True(t, FinalSyncError.IsErrorStage())
	assert.False(t, FinalSyncWait.IsErrorStage())
}
