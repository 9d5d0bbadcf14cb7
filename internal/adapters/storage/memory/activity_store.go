package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

// ActivityStore is an append-only audit log.
type ActivityStore struct {
	mu      sync.RWMutex
	entries []domain.ActivityEntry
}

func NewActivityStore() *ActivityStore {
	return &ActivityStore{}
}

func (s *ActivityStore) AppendActivity(_ context.Context, entry *domain.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, *entry)
	return nil
}

// Entries returns a copy of the log, oldest first.
func (s *ActivityStore) Entries() []domain.ActivityEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ActivityEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
