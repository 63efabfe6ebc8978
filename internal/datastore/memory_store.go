package datastore

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/migration-assistant/internal/datastore/entities"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
)

// MemoryStore is an in-process Store used by tests and dry runs.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     uint
	migrations []*entities.Migration // insertion order
	contexts   map[uint]*entities.MigrationContext
	records    map[uint][]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contexts: make(map[uint]*entities.MigrationContext),
		records:  make(map[uint][]string),
	}
}

func (s *MemoryStore) ActiveMigration(_ context.Context) (*entities.Migration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.migrations) - 1; i >= 0; i-- {
		m := s.migrations[i]
		if m.Stage == stage.Finished {
			continue
		}
		out := *m
		if mc, ok := s.contexts[m.ID]; ok {
			out.Context = *mc
		}
		return &out, nil
	}
	return nil, notFoundError("active migration", "-")
}

func (s *MemoryStore) CreateMigration(_ context.Context, m *entities.Migration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now()
	m.ID = s.nextID
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Context.ID = s.nextID
	m.Context.MigrationID = s.nextID

	stored := *m
	stored.Context = entities.MigrationContext{}
	mc := m.Context
	s.migrations = append(s.migrations, &stored)
	s.contexts[m.ID] = &mc
	return nil
}

func (s *MemoryStore) find(id uint) *entities.Migration {
	for _, m := range s.migrations {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *MemoryStore) UpdateStage(_ context.Context, migrationID uint, to stage.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(migrationID)
	if m == nil {
		return notFoundError("migration", migrationID)
	}
	m.Stage = to
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CompareAndSwapStage(_ context.Context, migrationID uint, from, to stage.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(migrationID)
	if m == nil {
		return notFoundError("migration", migrationID)
	}
	if m.Stage != from {
		return stageMismatchError(migrationID, string(from), string(m.Stage))
	}
	m.Stage = to
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetContext(_ context.Context, migrationID uint) (*entities.MigrationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.contexts[migrationID]
	if !ok {
		return nil, notFoundError("migration context", migrationID)
	}
	out := *mc
	return &out, nil
}

func (s *MemoryStore) SaveContext(_ context.Context, mc *entities.MigrationContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(mc.MigrationID) == nil {
		return notFoundError("migration", mc.MigrationID)
	}
	stored := *mc
	s.contexts[mc.MigrationID] = &stored
	return nil
}

func (s *MemoryStore) AppendFileSyncRecord(_ context.Context, migrationID uint, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[migrationID] = append(s.records[migrationID], path)
	return nil
}

func (s *MemoryStore) DrainFileSyncRecords(_ context.Context, migrationID uint) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := s.records[migrationID]
	delete(s.records, migrationID)
	return paths, nil
}

func (s *MemoryStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.migrations = nil
	s.contexts = make(map[uint]*entities.MigrationContext)
	s.records = make(map[uint][]string)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
