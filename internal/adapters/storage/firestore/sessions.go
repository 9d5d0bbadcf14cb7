package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

type sessionDoc struct {
	Owner        string            `firestore:"owner"`
	Mode         string            `firestore:"mode"`
	Status       string            `firestore:"status"`
	MessageCount int               `firestore:"message_count"`
	CreatedAt    time.Time         `firestore:"created_at"`
	ClosedAt     *time.Time        `firestore:"closed_at"`
	Metadata     map[string]string `firestore:"metadata,omitempty"`

	// DelegationCount is only written inside delegation transactions.
	DelegationCount int `firestore:"delegation_count"`
}

func toSessionDoc(s *domain.Session) sessionDoc {
	return sessionDoc{
		Owner:        string(s.Owner),
		Mode:         string(s.Mode),
		Status:       string(s.Status),
		MessageCount: s.MessageCount,
		CreatedAt:    s.CreatedAt,
		ClosedAt:     s.ClosedAt,
		Metadata:     s.Metadata,
	}
}

func (d sessionDoc) toDomain(id string) *domain.Session {
	return &domain.Session{
		ID:           domain.SessionID(id),
		Owner:        domain.AgentID(d.Owner),
		Mode:         domain.Mode(d.Mode),
		Status:       domain.SessionStatus(d.Status),
		MessageCount: d.MessageCount,
		CreatedAt:    d.CreatedAt,
		ClosedAt:     d.ClosedAt,
		Metadata:     d.Metadata,
	}
}

// ─────────────────────────────────────────
// Sessions
// ─────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	if _, err := s.sessionDoc(session.ID).Create(ctx, toSessionDoc(session)); err != nil {
		return wrap("CreateSession", err)
	}
	return nil
}

// UpdateSession leaves message_count alone; only IncrementMessageCount
// writes it.
func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.sessionDoc(session.ID).Update(ctx, []firestore.Update{
		{Path: "mode", Value: string(session.Mode)},
		{Path: "status", Value: string(session.Status)},
		{Path: "closed_at", Value: session.ClosedAt},
		{Path: "metadata", Value: session.Metadata},
	})
	if err != nil {
		return wrap("UpdateSession", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	snap, err := s.sessionDoc(id).Get(ctx)
	if err != nil {
		return nil, wrap("GetSession", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, wrap("GetSession decode", err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (s *Store) IncrementMessageCount(ctx context.Context, id domain.SessionID) error {
	_, err := s.sessionDoc(id).Update(ctx, []firestore.Update{
		{Path: "message_count", Value: firestore.Increment(1)},
	})
	if err != nil {
		return wrap("IncrementMessageCount", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.Session, error) {
	q := s.sessionsCol().Query
	if filter.Owner != "" {
		q = q.Where("owner", "==", string(filter.Owner))
	}
	if filter.Status != "" {
		q = q.Where("status", "==", string(filter.Status))
	}
	q = q.OrderBy("created_at", firestore.Desc)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var out []*domain.Session
	err := each(q.Documents(ctx), func(snap *firestore.DocumentSnapshot) error {
		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		out = append(out, doc.toDomain(snap.Ref.ID))
		return nil
	})
	if err != nil {
		return nil, wrap("ListSessions", err)
	}
	return out, nil
}
