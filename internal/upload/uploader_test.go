package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/storage"
)

// fakeStore records the keys it receives and fails the configured ones.
type fakeStore struct {
	mu          sync.Mutex
	keys        []string
	fail        map[string]bool
	unreachable bool
	calls       atomic.Int64
}

func (s *fakeStore) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	s.calls.Add(1)
	if s.unreachable {
		return errors.New(errors.Join(storage.ErrDestinationUnreachable, errors.NewStd("dial tcp: no route to host"))).
			Category(errors.CategoryNetwork).
			Build()
	}
	if _, err := io.ReadAll(r); err != nil {
		return err
	}
	if s.fail[key] {
		return errors.NewStd("access denied for " + key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}

func (s *fakeStore) Validate(context.Context) error { return nil }
func (s *fakeStore) Name() string                   { return "fake" }

func (s *fakeStore) sortedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := append([]string(nil), s.keys...)
	sort.Strings(keys)
	return keys
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *recordingMetrics) RecordUpload(_, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}

// writeFiles creates n files named f0..f(n-1) under root and returns their relative paths.
func writeFiles(t *testing.T, root string, n int) []string {
	t.Helper()
	paths := make([]string, 0, n)
	for i := range n {
		rel := filepath.Join("data", fmt.Sprintf("f%d", i))
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(rel), 0o600))
		paths = append(paths, rel)
	}
	return paths
}

func fillQueue(t *testing.T, items []string) *Queue[string] {
	t.Helper()
	q := NewQueue[string](len(items))
	for _, item := range items {
		require.NoError(t, q.Put(item))
	}
	return q
}

func TestUploader_Upload_CountsSuccessesAndFailures(t *testing.T) {
	const n, f = 20, 3
	root := t.TempDir()
	items := writeFiles(t, root, n)

	store := &fakeStore{fail: map[string]bool{
		"home/data/f1":  true,
		"home/data/f7":  true,
		"home/data/f13": true,
	}}
	report := NewReport(KindFilesystem)
	metrics := &recordingMetrics{}
	u := NewUploader(store, report, WithRoot(root), WithKeyPrefix("/home/"), WithConcurrency(4), WithMetrics(metrics))

	require.NoError(t, u.Upload(context.Background(), fillQueue(t, items)))

	assert.Equal(t, int64(n), report.UploadCommenced())
	assert.Equal(t, int64(n-f), report.Uploaded())
	assert.Len(t, report.Failures(), f)
	assert.Len(t, store.sortedKeys(), n-f)
	assert.Equal(t, map[string]int{OutcomeUploaded: n - f, OutcomeFailed: f}, metrics.outcomes)
}

func TestUploader_Upload_MissingFileIsPerItemFailure(t *testing.T) {
	root := t.TempDir()
	items := append(writeFiles(t, root, 2), "data/missing")

	store := &fakeStore{}
	report := NewReport(KindFinalSync)
	u := NewUploader(store, report, WithRoot(root))

	require.NoError(t, u.Upload(context.Background(), fillQueue(t, items)))

	require.Len(t, report.Failures(), 1)
	assert.Equal(t, "data/missing", report.Failures()[0].Path)
	assert.Equal(t, int64(2), report.Uploaded())
}

func TestUploader_Upload_AbsolutePathsInsideRoot(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, 1)

	store := &fakeStore{}
	report := NewReport(KindFinalSync)
	u := NewUploader(store, report, WithRoot(root), WithKeyPrefix("sync"))

	items := []string{filepath.Join(root, "data", "f0"), "/elsewhere/secret"}
	require.NoError(t, u.Upload(context.Background(), fillQueue(t, items)))

	assert.Equal(t, []string{"sync/data/f0"}, store.sortedKeys())
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, "/elsewhere/secret", report.Failures()[0].Path)
}

func TestUploader_Upload_UnreachableAbortsBatch(t *testing.T) {
	root := t.TempDir()
	items := writeFiles(t, root, 50)

	store := &fakeStore{unreachable: true}
	report := NewReport(KindFilesystem)
	u := NewUploader(store, report, WithRoot(root), WithConcurrency(2))

	err := u.Upload(context.Background(), fillQueue(t, items))
	require.Error(t, err)

	var uploadErr *FileUploadError
	require.True(t, errors.As(err, &uploadErr))
	assert.ErrorIs(t, err, storage.ErrDestinationUnreachable)
	assert.NotEmpty(t, uploadErr.Path)
	assert.Less(t, store.calls.Load(), int64(50), "remaining items must not be attempted")
}

func TestUploader_Upload_CancelledContext(t *testing.T) {
	root := t.TempDir()
	items := writeFiles(t, root, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	u := NewUploader(&fakeStore{}, NewReport(KindFilesystem), WithRoot(root))
	err := u.Upload(ctx, fillQueue(t, items))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUploader_Upload_RateLimited(t *testing.T) {
	root := t.TempDir()
	items := writeFiles(t, root, 3)

	report := NewReport(KindFilesystem)
	u := NewUploader(&fakeStore{}, report, WithRoot(root), WithRateLimit(1000, 1))

	require.NoError(t, u.Upload(context.Background(), fillQueue(t, items)))
	assert.Equal(t, int64(3), report.Uploaded())
}

func TestUploader_Upload_LocalStore(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	items := writeFiles(t, src, 4)

	store, err := storage.NewLocalStore(dst)
	require.NoError(t, err)
	report := NewReport(KindFilesystem)
	u := NewUploader(store, report, WithRoot(src), WithKeyPrefix("home"))

	require.NoError(t, u.Upload(context.Background(), fillQueue(t, items)))
	assert.Equal(t, int64(4), report.Uploaded())

	got, err := os.ReadFile(filepath.Join(dst, "home", "data", "f2"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "f2"), string(got))
}
