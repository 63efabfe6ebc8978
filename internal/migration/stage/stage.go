// Package stage defines the migration stages, their total order and the
// static edge graph that gates every stage change.
package stage

import (
	"fmt"
	"slices"
	"strings"
)

// Stage is a named point in the migration lifecycle. The zero value is invalid.
type Stage string

const (
	NotStarted                  Stage = "not_started"
	Authentication              Stage = "authentication"
	ProvisionApplication        Stage = "provision_application"
	ProvisionApplicationWait    Stage = "provision_application_wait"
	ProvisionMigrationStack     Stage = "provision_migration_stack"
	ProvisionMigrationStackWait Stage = "provision_migration_stack_wait"
	FSMigrationCopy             Stage = "fs_migration_copy"
	FSMigrationCopyWait         Stage = "fs_migration_copy_wait"
	OfflineWarning              Stage = "offline_warning"
	DBMigrationExport           Stage = "db_migration_export"
	DBMigrationExportWait       Stage = "db_migration_export_wait"
	DBMigrationUpload           Stage = "db_migration_upload"
	DBMigrationUploadWait       Stage = "db_migration_upload_wait"
	DataMigrationImport         Stage = "data_migration_import"
	DataMigrationImportWait     Stage = "data_migration_import_wait"
	FinalSyncWait               Stage = "final_sync_wait"
	Validate                    Stage = "validate"
	Cutover                     Stage = "cutover"
	Finished                    Stage = "finished"
	ProvisioningError           Stage = "provisioning_error"
	FinalSyncError              Stage = "final_sync_error"
	Error                       Stage = "error"
)

// ordered lists every stage; the index is the ordinal used by IsAfter.
var ordered = []Stage{
	NotStarted,
	Authentication,
	ProvisionApplication,
	ProvisionApplicationWait,
	ProvisionMigrationStack,
	ProvisionMigrationStackWait,
	FSMigrationCopy,
	FSMigrationCopyWait,
	OfflineWarning,
	DBMigrationExport,
	DBMigrationExportWait,
	DBMigrationUpload,
	DBMigrationUploadWait,
	DataMigrationImport,
	DataMigrationImportWait,
	FinalSyncWait,
	Validate,
	Cutover,
	Finished,
	ProvisioningError,
	FinalSyncError,
	Error,
}

var (
	ordinals = make(map[Stage]int, len(ordered))
	edges    = make(map[Stage]map[Stage]struct{}, len(ordered))
)

func init() {
	for i, s := range ordered {
		ordinals[s] = i
		edges[s] = make(map[Stage]struct{})
	}

	// forward chain up to validate
	for i := ordinals[NotStarted]; i < ordinals[Validate]; i++ {
		addEdge(ordered[i], ordered[i+1])
	}
	addEdge(Validate, Finished)
	addEdge(Validate, Cutover)
	addEdge(Cutover, Finished)

	for _, s := range ordered {
		if s != Finished && s != Error {
			addEdge(s, Error)
		}
	}

	for _, s := range []Stage{ProvisionApplication, ProvisionApplicationWait, ProvisionMigrationStack, ProvisionMigrationStackWait} {
		addEdge(s, ProvisioningError)
	}

	for i := ordinals[OfflineWarning]; i <= ordinals[FinalSyncWait]; i++ {
		addEdge(ordered[i], FinalSyncError)
	}

	// scoped retries
	addEdge(ProvisioningError, ProvisionApplication)
	addEdge(FinalSyncError, FinalSyncWait)
	addEdge(FinalSyncError, DBMigrationExport)
	addEdge(Error, FSMigrationCopy)
	addEdge(OfflineWarning, FSMigrationCopy)

	addEdge(DataMigrationImportWait, FinalSyncWait)

	// an aborted database migration returns to the offline warning
	for _, s := range ordered {
		if s.IsDBPhase() {
			addEdge(s, OfflineWarning)
		}
	}
}

func addEdge(from, to Stage) {
	edges[from][to] = struct{}{}
}

// All returns every stage in ordinal order.
func All() []Stage {
	return slices.Clone(ordered)
}

// Parse converts a stage name, case-insensitively, into a Stage.
func Parse(name string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := ordinals[s]; !ok {
		return "", fmt.Errorf("unknown migration stage %q", name)
	}
	return s, nil
}

// String returns the stage name.
func (s Stage) String() string {
	return string(s)
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := ordinals[s]
	return ok
}

// Ordinal returns the position of s in the total order, or -1 for unknown stages.
func (s Stage) Ordinal() int {
	if i, ok := ordinals[s]; ok {
		return i
	}
	return -1
}

// IsValidTransition reports whether the edge s -> to exists.
func (s Stage) IsValidTransition(to Stage) bool {
	_, ok := edges[s][to]
	return ok
}

// ValidTransitions returns the stages reachable from s in one step, in ordinal order.
func (s Stage) ValidTransitions() []Stage {
	out := make([]Stage, 0, len(edges[s]))
	for to := range edges[s] {
		out = append(out, to)
	}
	slices.SortFunc(out, func(a, b Stage) int { return a.Ordinal() - b.Ordinal() })
	return out
}

// IsAfter reports whether s comes strictly after other in the total order.
func (s Stage) IsAfter(other Stage) bool {
	return s.Ordinal() > other.Ordinal()
}

// IsDBPhase reports whether s belongs to the database export, upload or import phases.
func (s Stage) IsDBPhase() bool {
	return strings.HasPrefix(string(s), "db_") || s == DataMigrationImport || s == DataMigrationImportWait
}

// IsErrorStage reports whether s is one of the error stages.
func (s Stage) IsErrorStage() bool {
	return s == Error || s == ProvisioningError || s == FinalSyncError
}

// IsTerminal reports whether no edge leaves s.
func (s Stage) IsTerminal() bool {
	return s == Finished
}
