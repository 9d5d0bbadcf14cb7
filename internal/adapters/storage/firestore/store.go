// Package firestore is the durable storage backend. Sessions hold their
// messages as a subcollection; every other record type has a top-level
// collection.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

const (
	sessionsCollection    = "sessions"
	messagesCollection    = "messages"
	memoryCollection      = "memory"
	escalationsCollection = "escalations"
	delegationsCollection = "delegations"
	activityCollection    = "activity"

	profileCollection = "config"
	profileDocument   = "commander_profile"
)

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store for projectID (PORTAL_GCP_PROJECT).
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection(sessionsCollection)
}

func (s *Store) sessionDoc(id domain.SessionID) *firestore.DocumentRef {
	return s.sessionsCol().Doc(string(id))
}

func (s *Store) messagesCol(sessionID domain.SessionID) *firestore.CollectionRef {
	return s.sessionDoc(sessionID).Collection(messagesCollection)
}

// wrap maps gRPC status codes onto domain errors so callers can match them
// with errors.Is regardless of backend.
func wrap(op string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("firestore %s: %w", op, domain.ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("firestore %s: %w", op, domain.ErrAlreadyExists)
	default:
		return fmt.Errorf("firestore %s: %w", op, err)
	}
}

// each walks every document of a query.
func each(it *firestore.DocumentIterator, fn func(*firestore.DocumentSnapshot) error) error {
	defer it.Stop()
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}

// deleteAll removes refs through a BulkWriter and reports how many deletes
// succeeded.
func (s *Store) deleteAll(ctx context.Context, refs []*firestore.DocumentRef) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return 0, err
		}
		jobs = append(jobs, job)
	}
	bw.End()

	deleted := 0
	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}
