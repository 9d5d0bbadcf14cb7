package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

type memoryKey struct {
	owner    domain.AgentID
	category domain.MemoryCategory
	key      string
}

// MemoryStore keeps memory entries unique per (owner, category, key).
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[memoryKey]*domain.MemoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[memoryKey]*domain.MemoryEntry),
	}
}

func (s *MemoryStore) UpsertMemory(_ context.Context, entry *domain.MemoryEntry) error {
	if entry == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.entries[memoryKey{entry.Owner, entry.Category, entry.Key}] = &cp
	return nil
}

func (s *MemoryStore) ListMemory(_ context.Context, owner domain.AgentID) ([]*domain.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.MemoryEntry{}
	for k, e := range s.entries {
		if k.owner != owner {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
