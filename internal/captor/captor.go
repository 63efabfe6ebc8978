// Package captor records the paths of files changed on the host after the
// bulk copy so the final sync can upload them.
package captor

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/migration-assistant/internal/datastore"
	"github.com/tphakala/migration-assistant/internal/datastore/entities"
	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/migration"
)

// DefaultDedupeWindow is how long a recorded path suppresses repeated records.
const DefaultDedupeWindow = time.Minute

// PathCaptor is the capture ledger used by the final sync.
type PathCaptor interface {
	Record(ctx context.Context, path string) error
	DrainAll(ctx context.Context) ([]string, error)
}

// MigrationSource returns the active migration.
type MigrationSource interface {
	CurrentMigration(ctx context.Context) (*entities.Migration, error)
}

// StoreCaptor persists recorded paths in the datastore ledger of the active
// migration. Repeated touches of the same file within the dedupe window are
// written once.
type StoreCaptor struct {
	store      datastore.Store
	migrations MigrationSource
	recent     *cache.Cache
	logger     logger.Logger

	// mu makes a record and a drain mutually exclusive, so the dedupe
	// entry of a drained path is always cleared by the drain.
	mu sync.Mutex
}

var _ PathCaptor = (*StoreCaptor)(nil)

// New creates a captor. A window of zero selects DefaultDedupeWindow.
func New(store datastore.Store, migrations MigrationSource, window time.Duration) *StoreCaptor {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &StoreCaptor{
		store:      store,
		migrations: migrations,
		recent:     cache.New(window, window*2),
		logger:     GetLogger(),
	}
}

// Record appends path to the ledger. Without an active migration there is
// nothing to sync and the path is dropped.
func (c *StoreCaptor) Record(ctx context.Context, path string) error {
	path = filepath.Clean(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, seen := c.recent.Get(path); seen {
		return nil
	}

	m, err := c.migrations.CurrentMigration(ctx)
	if errors.Is(err, migration.ErrNoActiveMigration) {
		c.logger.Debug("no active migration, path not recorded", logger.String("path", path))
		return nil
	}
	if err != nil {
		return err
	}

	if err := c.store.AppendFileSyncRecord(ctx, m.ID, path); err != nil {
		return err
	}
	c.recent.SetDefault(path, struct{}{})
	return nil
}

// DrainAll returns every recorded path once, in first-recorded order, and
// empties the ledger.
func (c *StoreCaptor) DrainAll(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.migrations.CurrentMigration(ctx)
	if errors.Is(err, migration.ErrNoActiveMigration) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	paths, err := c.store.DrainFileSyncRecords(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	// Paths touched after this point must be recorded again.
	c.recent.Flush()

	seen := make(map[string]struct{}, len(paths))
	unique := paths[:0]
	for _, p := range paths {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}

	c.logger.Info("capture ledger drained",
		logger.Int64("migration_id", int64(m.ID)),
		logger.Int("paths", len(unique)),
		logger.Int("records", len(paths)))
	return unique, nil
}
