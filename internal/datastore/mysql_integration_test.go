//go:build integration

package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
)

// setupMySQLStore starts a MySQL container and returns an initialized GormStore.
func setupMySQLStore(t *testing.T) *GormStore {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := mysql.Run(ctx, "mysql:8.0.36",
		mysql.WithDatabase("migration"),
		mysql.WithUsername("migration"),
		mysql.WithPassword("migration"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "charset=utf8mb4", "parseTime=True", "loc=Local")
	require.NoError(t, err)

	manager, err := NewMySQLManagerFromDSN(dsn)
	require.NoError(t, err)
	require.NoError(t, manager.Initialize())

	store := NewGormStore(manager)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMySQLStore_StageLifecycle(t *testing.T) {
	store := setupMySQLStore(t)
	ctx := context.Background()

	m := createMigration(t, store, stage.FinalSyncWait)
	require.NoError(t, store.AppendFileSyncRecord(ctx, m.ID, "home/a.txt"))

	require.NoError(t, store.CompareAndSwapStage(ctx, m.ID, stage.FinalSyncWait, stage.Validate))
	err := store.CompareAndSwapStage(ctx, m.ID, stage.FinalSyncWait, stage.Validate)
	assert.ErrorIs(t, err, ErrStageMismatch)

	paths, err := store.DrainFileSyncRecords(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"home/a.txt"}, paths)

	require.NoError(t, store.DeleteAll(ctx))
	_, err = store.ActiveMigration(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}
