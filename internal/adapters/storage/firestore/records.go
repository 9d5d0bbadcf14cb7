package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

// ─────────────────────────────────────────
// Commander memory
// ─────────────────────────────────────────

type memoryDoc struct {
	Owner     string    `firestore:"owner"`
	Category  string    `firestore:"category"`
	Key       string    `firestore:"key"`
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// memoryDocID makes (owner, category, key) the document identity, so an
// upsert is a plain Set.
func memoryDocID(e *domain.MemoryEntry) string {
	return url.PathEscape(string(e.Owner)) + "__" + url.PathEscape(string(e.Category)) + "__" + url.PathEscape(e.Key)
}

func (s *Store) UpsertMemory(ctx context.Context, entry *domain.MemoryEntry) error {
	doc := memoryDoc{
		Owner:     string(entry.Owner),
		Category:  string(entry.Category),
		Key:       entry.Key,
		Value:     entry.Value,
		UpdatedAt: entry.UpdatedAt,
	}
	if _, err := s.client.Collection(memoryCollection).Doc(memoryDocID(entry)).Set(ctx, doc); err != nil {
		return wrap("UpsertMemory", err)
	}
	return nil
}

func (s *Store) ListMemory(ctx context.Context, owner domain.AgentID) ([]*domain.MemoryEntry, error) {
	q := s.client.Collection(memoryCollection).
		Where("owner", "==", string(owner)).
		OrderBy("updated_at", firestore.Desc)

	var out []*domain.MemoryEntry
	err := each(q.Documents(ctx), func(snap *firestore.DocumentSnapshot) error {
		var doc memoryDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		out = append(out, &domain.MemoryEntry{
			Key:       doc.Key,
			Value:     doc.Value,
			Category:  domain.MemoryCategory(doc.Category),
			Owner:     domain.AgentID(doc.Owner),
			UpdatedAt: doc.UpdatedAt,
		})
		return nil
	})
	if err != nil {
		return nil, wrap("ListMemory", err)
	}
	return out, nil
}

// ─────────────────────────────────────────
// Escalations
// ─────────────────────────────────────────

// escalationDoc keeps a few queryable fields next to the packet JSON.
type escalationDoc struct {
	From      string    `firestore:"from"`
	Trigger   string    `firestore:"trigger"`
	Severity  string    `firestore:"severity"`
	Status    string    `firestore:"status"`
	CreatedAt time.Time `firestore:"created_at"`
	Packet    string    `firestore:"packet"`
}

func (s *Store) SaveHandoff(ctx context.Context, packet *domain.HandoffPacket) error {
	raw, err := json.Marshal(packet)
	if err != nil {
		return wrap("SaveHandoff encode", err)
	}
	doc := escalationDoc{
		From:      string(packet.From),
		Trigger:   string(packet.Trigger),
		Severity:  string(packet.Severity),
		Status:    string(packet.Status),
		CreatedAt: packet.Timestamp,
		Packet:    string(raw),
	}
	if _, err := s.client.Collection(escalationsCollection).Doc(packet.ID).Create(ctx, doc); err != nil {
		return wrap("SaveHandoff", err)
	}
	return nil
}

func (s *Store) GetHandoff(ctx context.Context, id string) (*domain.HandoffPacket, error) {
	snap, err := s.client.Collection(escalationsCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, wrap("GetHandoff", err)
	}

	var doc escalationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, wrap("GetHandoff decode", err)
	}
	var packet domain.HandoffPacket
	if err := json.Unmarshal([]byte(doc.Packet), &packet); err != nil {
		return nil, wrap("GetHandoff decode", err)
	}
	return &packet, nil
}

// ─────────────────────────────────────────
// Delegations
// ─────────────────────────────────────────

type delegationDoc struct {
	SessionID       string    `firestore:"session_id"`
	CallerAgent     string    `firestore:"caller_agent"`
	TargetAgent     string    `firestore:"target_agent"`
	TaskDescription string    `firestore:"task_description"`
	Status          string    `firestore:"status"`
	ModelOverride   string    `firestore:"model_override"`
	Result          string    `firestore:"result"`
	Error           string    `firestore:"error"`
	CreatedAt       time.Time `firestore:"created_at"`
	UpdatedAt       time.Time `firestore:"updated_at"`
}

func toDelegationDoc(d *domain.Delegation) delegationDoc {
	return delegationDoc{
		SessionID:       string(d.SessionID),
		CallerAgent:     string(d.CallerAgent),
		TargetAgent:     string(d.TargetAgent),
		TaskDescription: d.TaskDescription,
		Status:          string(d.Status),
		ModelOverride:   d.ModelOverride,
		Result:          d.Result,
		Error:           d.Error,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func (d delegationDoc) toDomain(id string) *domain.Delegation {
	return &domain.Delegation{
		ID:              id,
		SessionID:       domain.SessionID(d.SessionID),
		CallerAgent:     domain.AgentID(d.CallerAgent),
		TargetAgent:     domain.AgentID(d.TargetAgent),
		TaskDescription: d.TaskDescription,
		Status:          domain.DelegationStatus(d.Status),
		ModelOverride:   d.ModelOverride,
		Result:          d.Result,
		Error:           d.Error,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func (s *Store) CreateDelegation(ctx context.Context, d *domain.Delegation) error {
	if _, err := s.client.Collection(delegationsCollection).Doc(d.ID).Create(ctx, toDelegationDoc(d)); err != nil {
		return wrap("CreateDelegation", err)
	}
	return nil
}

// CreateDelegationWithinQuota reads the session's delegations and writes the
// new one in a single transaction. The transaction also bumps the parent
// session's delegation_count, so two creates on one session always conflict
// and one of them retries against the fresh count.
func (s *Store) CreateDelegationWithinQuota(ctx context.Context, d *domain.Delegation, q domain.Quota) error {
	col := s.client.Collection(delegationsCollection)
	sessionRef := s.sessionDoc(d.SessionID)
	existingQ := col.Where("session_id", "==", string(d.SessionID))

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(sessionRef); err != nil {
			return err
		}

		snaps, err := tx.Documents(existingQ).GetAll()
		if err != nil {
			return err
		}
		existing := make([]*domain.Delegation, 0, len(snaps))
		for _, snap := range snaps {
			var doc delegationDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			existing = append(existing, doc.toDomain(snap.Ref.ID))
		}
		if err := q.Check(d.SessionID, existing); err != nil {
			return err
		}

		if err := tx.Create(col.Doc(d.ID), toDelegationDoc(d)); err != nil {
			return err
		}
		return tx.Update(sessionRef, []firestore.Update{
			{Path: "delegation_count", Value: firestore.Increment(1)},
		})
	})
	if errors.Is(err, domain.ErrQuotaExceeded) {
		return err
	}
	if err != nil {
		return wrap("CreateDelegationWithinQuota", err)
	}
	return nil
}

func (s *Store) UpdateDelegation(ctx context.Context, d *domain.Delegation) error {
	ref := s.client.Collection(delegationsCollection).Doc(d.ID)
	if _, err := ref.Set(ctx, toDelegationDoc(d)); err != nil {
		return wrap("UpdateDelegation", err)
	}
	return nil
}

func (s *Store) GetDelegation(ctx context.Context, id string) (*domain.Delegation, error) {
	snap, err := s.client.Collection(delegationsCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, wrap("GetDelegation", err)
	}
	var doc delegationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, wrap("GetDelegation decode", err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (s *Store) ListDelegationsBySession(ctx context.Context, sessionID domain.SessionID) ([]*domain.Delegation, error) {
	q := s.client.Collection(delegationsCollection).
		Where("session_id", "==", string(sessionID)).
		OrderBy("created_at", firestore.Asc)

	var out []*domain.Delegation
	err := each(q.Documents(ctx), func(snap *firestore.DocumentSnapshot) error {
		var doc delegationDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		out = append(out, doc.toDomain(snap.Ref.ID))
		return nil
	})
	if err != nil {
		return nil, wrap("ListDelegationsBySession", err)
	}
	return out, nil
}

// ─────────────────────────────────────────
// Activity log
// ─────────────────────────────────────────

type activityDoc struct {
	Agent     string    `firestore:"agent"`
	Action    string    `firestore:"action"`
	Detail    string    `firestore:"detail"`
	CreatedAt time.Time `firestore:"created_at"`
}

func (s *Store) AppendActivity(ctx context.Context, entry *domain.ActivityEntry) error {
	doc := activityDoc{
		Agent:     string(entry.Agent),
		Action:    entry.Action,
		Detail:    entry.Detail,
		CreatedAt: entry.CreatedAt,
	}
	if _, err := s.client.Collection(activityCollection).Doc(entry.ID).Set(ctx, doc); err != nil {
		return wrap("AppendActivity", err)
	}
	return nil
}
