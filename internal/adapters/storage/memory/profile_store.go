package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

// ProfileStore holds a locally set commander profile. With nothing set,
// FetchProfile reports ErrNotFound and callers use the fallback profile.
type ProfileStore struct {
	mu      sync.RWMutex
	profile *domain.CommanderProfile
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{}
}

func (s *ProfileStore) SetProfile(p *domain.CommanderProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
}

func (s *ProfileStore) FetchProfile(_ context.Context) (*domain.CommanderProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.profile == nil {
		return nil, fmt.Errorf("commander profile: %w", domain.ErrNotFound)
	}
	return s.profile, nil
}
