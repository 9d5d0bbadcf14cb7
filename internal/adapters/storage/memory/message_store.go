package memory

import (
	"context"
	"sync"
	"time"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

type MessageStore struct {
	mu       sync.RWMutex
	messages map[domain.SessionID][]*domain.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[domain.SessionID][]*domain.Message),
	}
}

func (s *MessageStore) AppendMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *msg
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], &cp)
	return nil
}

func (s *MessageStore) GetMessagesBySession(_ context.Context, sessionID domain.SessionID, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MessageStore) DeleteSessionMessages(_ context.Context, sessionID domain.SessionID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.messages[sessionID])
	delete(s.messages, sessionID)
	return n, nil
}

func (s *MessageStore) DeleteMessagesBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, msgs := range s.messages {
		kept := msgs[:0]
		for _, m := range msgs {
			if m.CreatedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(s.messages, id)
			continue
		}
		s.messages[id] = kept
	}
	return deleted, nil
}
