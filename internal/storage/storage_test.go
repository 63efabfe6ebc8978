package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/migration-assistant/internal/errors"
)

func TestLocalStore_Put_WritesNestedKey(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	body := "attachment bytes"
	require.NoError(t, store.Put(context.Background(), "home/data/attachments/1/a.bin", strings.NewReader(body), int64(len(body))))

	got, err := os.ReadFile(filepath.Join(root, "home", "data", "attachments", "1", "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	entries, err := os.ReadDir(filepath.Join(root, "home", "data", "attachments", "1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")
}

func TestLocalStore_Put_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../escape", strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestLocalStore_Put_ShortWrite(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "file", strings.NewReader("abc"), 10)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDestinationUnreachable))
}

func TestLocalStore_MissingRootIsUnreachable(t *testing.T) {
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)

	err = store.Put(context.Background(), "file", strings.NewReader("x"), 1)
	require.ErrorIs(t, err, ErrDestinationUnreachable)

	err = store.Validate(context.Background())
	require.ErrorIs(t, err, ErrDestinationUnreachable)
}

func TestLocalStore_Validate(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)
	require.NoError(t, store.Validate(context.Background()))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewLocalStore_EmptyPath(t *testing.T) {
	_, err := NewLocalStore("")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection reset", errors.NewStd("read tcp: connection reset by peer"), true},
		{"handshake", errors.NewStd("ssh: handshake failed: EOF"), true},
		{"s3 throttling", errors.NewStd("SlowDown: please reduce your request rate"), true},
		{"permission", errors.NewStd("permission denied"), false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestWithRetry_RetriesTransientErrors(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, Backoff: time.Millisecond}
	calls := 0

	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.NewStd("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, Backoff: time.Millisecond}
	calls := 0
	permanent := errors.NewStd("permission denied")

	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, Backoff: time.Millisecond}
	calls := 0

	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		return errors.NewStd("i/o timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, errors.IsCategory(err, errors.CategoryRetry))
}

func TestWithRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, DefaultRetryConfig(), func() error {
		t.Fatal("op must not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNetworkStores_RequireConfiguration(t *testing.T) {
	_, err := NewSFTPStore(SFTPConfig{})
	require.Error(t, err)

	_, err = NewSFTPStore(SFTPConfig{Host: "example.test"})
	require.Error(t, err, "an authentication method is required")

	sftpStore, err := NewSFTPStore(SFTPConfig{Host: "example.test", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, DefaultSSHPort, sftpStore.config.Port)
	assert.Equal(t, "migration", sftpStore.config.BasePath)

	_, err = NewFTPStore(FTPConfig{})
	require.Error(t, err)

	ftpStore, err := NewFTPStore(FTPConfig{Host: "example.test", BasePath: "/upload/"})
	require.NoError(t, err)
	assert.Equal(t, DefaultFTPPort, ftpStore.config.Port)
	assert.Equal(t, "/upload", ftpStore.config.BasePath)

	_, err = NewS3Store(nil, S3Config{})
	require.Error(t, err)
}
