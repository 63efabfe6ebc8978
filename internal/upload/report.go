package upload

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies which transfer a report describes.
type Kind string

const (
	KindFilesystem Kind = "filesystem"
	KindFinalSync  Kind = "final_sync"
	KindDatabase   Kind = "database"
)

// Status is the lifecycle of a transfer.
type Status string

const (
	StatusNotStarted  Status = "not_started"
	StatusRunning     Status = "running"
	StatusDownloading Status = "downloading"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
)

// Failure is one file that could not be transferred.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report accumulates the outcome of one transfer. Counters are safe for
// concurrent use by the uploader workers.
type Report struct {
	kind      Kind
	startedAt time.Time

	filesFound      atomic.Int64
	uploadCommenced atomic.Int64
	uploaded        atomic.Int64
	downloaded      atomic.Int64

	mu       sync.Mutex
	status   Status
	failures []Failure
}

// NewReport returns an empty report in not_started.
func NewReport(kind Kind) *Report {
	return &Report{kind: kind, status: StatusNotStarted, startedAt: time.Now()}
}

func (r *Report) Kind() Kind { return r.kind }

func (r *Report) ReportFileFound()         { r.filesFound.Add(1) }
func (r *Report) ReportUploadCommenced()   { r.uploadCommenced.Add(1) }
func (r *Report) ReportUploaded()          { r.uploaded.Add(1) }
func (r *Report) ReportDownloaded(n int64) { r.downloaded.Add(n) }

// ReportFailure records a file that could not be transferred.
func (r *Report) ReportFailure(path, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, Failure{Path: path, Reason: reason})
}

func (r *Report) FilesFound() int64      { return r.filesFound.Load() }
func (r *Report) UploadCommenced() int64 { return r.uploadCommenced.Load() }
func (r *Report) Uploaded() int64        { return r.uploaded.Load() }
func (r *Report) Downloaded() int64      { return r.downloaded.Load() }

// Failures returns a copy of the recorded failures.
func (r *Report) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.failures)
}

// FailureCount returns the number of recorded failures.
func (r *Report) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

func (r *Report) SetStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

func (r *Report) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Elapsed returns the time since the report was created.
func (r *Report) Elapsed() time.Duration {
	return time.Since(r.startedAt)
}

// Snapshot is a point-in-time copy of a report, suitable for display.
type Snapshot struct {
	Kind            Kind          `json:"kind" yaml:"kind"`
	Status          Status        `json:"status" yaml:"status"`
	FilesFound      int64         `json:"files_found" yaml:"files_found"`
	UploadCommenced int64         `json:"upload_commenced" yaml:"upload_commenced"`
	Uploaded        int64         `json:"uploaded" yaml:"uploaded"`
	Downloaded      int64         `json:"downloaded" yaml:"downloaded"`
	Failures        []Failure     `json:"failures" yaml:"failures"`
	Elapsed         time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Snapshot copies the current values.
func (r *Report) Snapshot() Snapshot {
	return Snapshot{
		Kind:            r.kind,
		Status:          r.Status(),
		FilesFound:      r.FilesFound(),
		UploadCommenced: r.UploadCommenced(),
		Uploaded:        r.Uploaded(),
		Downloaded:      r.Downloaded(),
		Failures:        r.Failures(),
		Elapsed:         r.Elapsed(),
	}
}

// ReportManager holds the current report of each kind. A reset installs a
// new report and never mutates the previous one.
type ReportManager struct {
	mu      sync.RWMutex
	reports map[Kind]*Report
}

// NewReportManager returns a manager without reports.
func NewReportManager() *ReportManager {
	return &ReportManager{reports: make(map[Kind]*Report)}
}

// CurrentReport returns the current report of kind, if one was ever created.
func (m *ReportManager) CurrentReport(kind Kind) (*Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[kind]
	return r, ok
}

// ResetReport installs and returns a fresh report of kind.
func (m *ReportManager) ResetReport(kind Kind) *Report {
	r := NewReport(kind)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[kind] = r
	return r
}

// Restore installs a report rebuilt from a snapshot saved by an earlier
// process, so a retry can pick up its failures.
func (m *ReportManager) Restore(s Snapshot) *Report {
	r := NewReport(s.Kind)
	r.startedAt = time.Now().Add(-s.Elapsed)
	r.filesFound.Store(s.FilesFound)
	r.uploadCommenced.Store(s.UploadCommenced)
	r.uploaded.Store(s.Uploaded)
	r.downloaded.Store(s.Downloaded)
	r.status = s.Status
	r.failures = slices.Clone(s.Failures)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[s.Kind] = r
	return r
}
