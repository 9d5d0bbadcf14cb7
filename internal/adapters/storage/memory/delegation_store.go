package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

type DelegationStore struct {
	mu          sync.RWMutex
	delegations map[string]*domain.Delegation
}

func NewDelegationStore() *DelegationStore {
	return &DelegationStore{
		delegations: make(map[string]*domain.Delegation),
	}
}

func (s *DelegationStore) CreateDelegation(_ context.Context, d *domain.Delegation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.delegations[d.ID]; exists {
		return fmt.Errorf("delegation %s: %w", d.ID, domain.ErrAlreadyExists)
	}
	cp := *d
	s.delegations[d.ID] = &cp
	return nil
}

func (s *DelegationStore) CreateDelegationWithinQuota(_ context.Context, d *domain.Delegation, q domain.Quota) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.delegations[d.ID]; exists {
		return fmt.Errorf("delegation %s: %w", d.ID, domain.ErrAlreadyExists)
	}
	var existing []*domain.Delegation
	for _, other := range s.delegations {
		if other.SessionID == d.SessionID {
			existing = append(existing, other)
		}
	}
	if err := q.Check(d.SessionID, existing); err != nil {
		return err
	}
	cp := *d
	s.delegations[d.ID] = &cp
	return nil
}

func (s *DelegationStore) UpdateDelegation(_ context.Context, d *domain.Delegation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.delegations[d.ID]; !exists {
		return fmt.Errorf("delegation %s: %w", d.ID, domain.ErrNotFound)
	}
	cp := *d
	s.delegations[d.ID] = &cp
	return nil
}

func (s *DelegationStore) GetDelegation(_ context.Context, id string) (*domain.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.delegations[id]
	if !ok {
		return nil, fmt.Errorf("delegation %s: %w", id, domain.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

// ListDelegationsBySession returns oldest first.
func (s *DelegationStore) ListDelegationsBySession(_ context.Context, sessionID domain.SessionID) ([]*domain.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.Delegation{}
	for _, d := range s.delegations {
		if d.SessionID == sessionID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
