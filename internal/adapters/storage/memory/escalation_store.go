package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

type EscalationStore struct {
	mu      sync.RWMutex
	packets map[string]*domain.HandoffPacket
}

func NewEscalationStore() *EscalationStore {
	return &EscalationStore{
		packets: make(map[string]*domain.HandoffPacket),
	}
}

// SaveHandoff refuses to overwrite: packets are written once.
func (s *EscalationStore) SaveHandoff(_ context.Context, packet *domain.HandoffPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.packets[packet.ID]; exists {
		return fmt.Errorf("handoff %s: %w", packet.ID, domain.ErrAlreadyExists)
	}
	cp := *packet
	s.packets[packet.ID] = &cp
	return nil
}

func (s *EscalationStore) GetHandoff(_ context.Context, id string) (*domain.HandoffPacket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.packets[id]
	if !ok {
		return nil, fmt.Errorf("handoff %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}
