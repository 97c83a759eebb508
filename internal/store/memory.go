package store

import (
	"context"

	"github.com/copygrid/trade-relay/internal/relay"
)

// MemoryStore is the volatile backend: the core's in-memory state is the
// only copy, so every save is a no-op. Useful for tests and deployments
// that accept losing the log on restart.
type MemoryStore struct{}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*relay.PersistedState, error) {
	return nil, nil
}

func (s *MemoryStore) SaveGroup(ctx context.Context, rec *relay.GroupRecord) error {
	return nil
}

func (s *MemoryStore) SaveRegistry(ctx context.Context, rec *relay.RegistryRecord) error {
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
