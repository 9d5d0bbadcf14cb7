package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

type attachmentDoc struct {
	Filename  string `firestore:"filename"`
	Type      string `firestore:"type"`
	SizeBytes int64  `firestore:"size"`
}

type messageDoc struct {
	SessionID   string          `firestore:"session_id"`
	Role        string          `firestore:"role"`
	Content     string          `firestore:"content"`
	Attachments []attachmentDoc `firestore:"attachments,omitempty"`
	CreatedAt   time.Time       `firestore:"created_at"`
}

func (d messageDoc) toDomain(id string) *domain.Message {
	msg := &domain.Message{
		ID:        domain.MessageID(id),
		SessionID: domain.SessionID(d.SessionID),
		Role:      domain.Role(d.Role),
		Content:   d.Content,
		CreatedAt: d.CreatedAt,
	}
	for _, a := range d.Attachments {
		msg.Attachments = append(msg.Attachments, domain.AttachmentMeta{
			Filename:  a.Filename,
			Type:      domain.AttachmentType(a.Type),
			SizeBytes: a.SizeBytes,
		})
	}
	return msg
}

// ─────────────────────────────────────────
// Messages
// ─────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	doc := messageDoc{
		SessionID: string(msg.SessionID),
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	for _, a := range msg.Attachments {
		doc.Attachments = append(doc.Attachments, attachmentDoc{
			Filename:  a.Filename,
			Type:      string(a.Type),
			SizeBytes: a.SizeBytes,
		})
	}

	if _, err := s.messagesCol(msg.SessionID).Doc(string(msg.ID)).Set(ctx, doc); err != nil {
		return wrap("AppendMessage", err)
	}
	return nil
}

func (s *Store) GetMessagesBySession(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.Message, error) {
	q := s.messagesCol(sessionID).OrderBy("created_at", firestore.Asc)
	if limit > 0 {
		q = q.LimitToLast(limit)
	}

	var out []*domain.Message
	err := each(q.Documents(ctx), func(snap *firestore.DocumentSnapshot) error {
		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		out = append(out, doc.toDomain(snap.Ref.ID))
		return nil
	})
	if err != nil {
		return nil, wrap("GetMessagesBySession", err)
	}
	return out, nil
}

func (s *Store) DeleteSessionMessages(ctx context.Context, sessionID domain.SessionID) (int, error) {
	refs, err := s.collectRefs(s.messagesCol(sessionID).Query.Documents(ctx))
	if err != nil {
		return 0, wrap("DeleteSessionMessages", err)
	}
	n, err := s.deleteAll(ctx, refs)
	if err != nil {
		return n, wrap("DeleteSessionMessages", err)
	}
	return n, nil
}

// DeleteMessagesBefore sweeps the messages collection group, which needs a
// single-field index exemption on created_at.
func (s *Store) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	q := s.client.CollectionGroup(messagesCollection).Where("created_at", "<", cutoff)
	refs, err := s.collectRefs(q.Documents(ctx))
	if err != nil {
		return 0, wrap("DeleteMessagesBefore", err)
	}
	n, err := s.deleteAll(ctx, refs)
	if err != nil {
		return n, wrap("DeleteMessagesBefore", err)
	}
	return n, nil
}

func (s *Store) collectRefs(it *firestore.DocumentIterator) ([]*firestore.DocumentRef, error) {
	var refs []*firestore.DocumentRef
	err := each(it, func(snap *firestore.DocumentSnapshot) error {
		refs = append(refs, snap.Ref)
		return nil
	})
	return refs, err
}
