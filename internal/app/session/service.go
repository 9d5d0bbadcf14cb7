// Package session manages conversation sessions, cross-agent permissions
// and task delegation.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/katana-portal/internal/app/detached"
	"github.com/PabloGalante/katana-portal/internal/app/ratelimit"
	"github.com/PabloGalante/katana-portal/internal/domain"
	"github.com/PabloGalante/katana-portal/internal/observability"
)

const (
	IDTag = "portal"

	DefaultStaleness = 5 * 24 * time.Hour

	MaxDelegationsPerSession = 20
	MaxActiveDelegations     = 5

	RateKindDelegate = "delegate"
)

type Config struct {
	Supervisor      domain.AgentID
	Staleness       time.Duration
	DelegationModel string
}

type Deps struct {
	Sessions    domain.SessionStore
	Messages    domain.MessageStore
	Delegations domain.DelegationStore
	Activity    domain.ActivityStore
	Limiter     *ratelimit.Limiter
	Tasks       *detached.Runner
}

type Service struct {
	sessions    domain.SessionStore
	messages    domain.MessageStore
	delegations domain.DelegationStore
	activity    domain.ActivityStore
	limiter     *ratelimit.Limiter
	tasks       *detached.Runner

	cfg Config
	now func() time.Time
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.Supervisor == "" {
		cfg.Supervisor = domain.AgentKatana
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = DefaultStaleness
	}
	if d.Tasks == nil {
		d.Tasks = &detached.Runner{}
	}
	return &Service{
		sessions:    d.Sessions,
		messages:    d.Messages,
		delegations: d.Delegations,
		activity:    d.Activity,
		limiter:     d.Limiter,
		tasks:       d.Tasks,
		cfg:         cfg,
		now:         time.Now,
	}
}

// NewSessionID builds "<tag>-<owner>-<unixMillis>-<8 hex>".
func NewSessionID(owner domain.AgentID, at time.Time) domain.SessionID {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return domain.SessionID(fmt.Sprintf("%s-%s-%d-%s", IDTag, owner, at.UnixMilli(), suffix))
}

type CreateInput struct {
	Owner       domain.AgentID
	Mode        domain.Mode
	CallerAgent domain.AgentID
	Metadata    map[string]string
}

// CreateSession persists a new active session. Creating one for another
// owner needs the supervisor's permission.
func (s *Service) CreateSession(ctx context.Context, in CreateInput) (*domain.Session, error) {
	if in.Owner == "" {
		in.Owner = domain.AgentKimi
	}
	if in.Mode == "" {
		in.Mode = domain.ModeOperator
	}
	if !domain.IsKnownAgent(in.Owner) {
		return nil, domain.Invalid("unknown owner %q", in.Owner)
	}

	log := observability.LoggerFromContext(ctx).With(
		"owner", in.Owner,
		"mode", in.Mode,
		"caller", in.CallerAgent,
	)
	log.Info("starting new session")

	if in.CallerAgent != "" {
		if d := s.CheckPermission(ctx, in.CallerAgent, in.Owner, "create_session"); !d.Allowed {
			return nil, &PermissionError{Decision: d}
		}
	}

	now := s.now().UTC()
	sess := &domain.Session{
		ID:        NewSessionID(in.Owner, now),
		Owner:     in.Owner,
		Mode:      in.Mode,
		Status:    domain.SessionActive,
		CreatedAt: now,
		Metadata:  in.Metadata,
	}

	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		log.Error("failed to create session", "error", err)
		return nil, err
	}

	log.Info("session started", "session_id", sess.ID)
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	return s.sessions.GetSession(ctx, id)
}

func (s *Service) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.Session, error) {
	return s.sessions.ListSessions(ctx, filter)
}

// CloseSession flips an active session to closed. Closing a closed session
// is a no-op.
func (s *Service) CloseSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.SessionClosed {
		return sess, nil
	}

	now := s.now().UTC()
	sess.Status = domain.SessionClosed
	sess.ClosedAt = &now
	if err := s.sessions.UpdateSession(ctx, sess); err != nil {
		observability.LoggerFromContext(ctx).Error("failed to close session", "session_id", id, "error", err)
		return nil, err
	}

	s.audit(ctx, sess.Owner, "session_closed", string(id))
	return sess, nil
}

// CloseAndReplace closes id and immediately opens a new session for the
// same owner and mode.
func (s *Service) CloseAndReplace(ctx context.Context, id domain.SessionID) (closed, replacement *domain.Session, err error) {
	closed, err = s.CloseSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	replacement, err = s.CreateSession(ctx, CreateInput{Owner: closed.Owner, Mode: closed.Mode})
	if err != nil {
		return closed, nil, err
	}
	return closed, replacement, nil
}

// IncrementMessageCount is best-effort: failures are logged, never returned.
func (s *Service) IncrementMessageCount(ctx context.Context, id domain.SessionID) {
	if id == "" {
		return
	}
	if err := s.sessions.IncrementMessageCount(ctx, id); err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to increment message count",
			"session_id", id,
			"error", err,
		)
	}
}

type History struct {
	Session  *domain.Session
	Messages []*domain.Message
	// RotatedFrom is set when the requested session was stale and has been
	// replaced by Session.
	RotatedFrom domain.SessionID
}

// ResumeHistory returns a session's messages. A conversation whose oldest
// message is past the staleness window is purged, its session closed and a
// replacement returned instead.
func (s *Service) ResumeHistory(ctx context.Context, id domain.SessionID, limit int) (*History, error) {
	log := observability.LoggerFromContext(ctx).With("session_id", id)

	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		log.Error("failed to get session", "error", err)
		return nil, err
	}

	msgs, err := s.messages.GetMessagesBySession(ctx, id, 0)
	if err != nil {
		log.Error("failed to get messages", "error", err)
		return nil, err
	}

	if len(msgs) == 0 || s.now().Sub(msgs[0].CreatedAt) <= s.cfg.Staleness {
		if limit > 0 && len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}
		log.Info("fetched session history", "message_count", len(msgs))
		return &History{Session: sess, Messages: msgs}, nil
	}

	purged, err := s.messages.DeleteSessionMessages(ctx, id)
	if err != nil {
		log.Error("failed to purge stale conversation", "error", err)
		return nil, err
	}

	_, replacement, err := s.CloseAndReplace(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, sess.Owner, "session_rotated", fmt.Sprintf("%s -> %s", id, replacement.ID))

	log.Info("stale conversation rotated", "purged", purged, "replacement", replacement.ID)
	return &History{Session: replacement, Messages: []*domain.Message{}, RotatedFrom: id}, nil
}

// Sweep deletes every message older than the staleness window.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.Staleness)
	n, err := s.messages.DeleteMessagesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep messages before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	observability.LoggerFromContext(ctx).Info("staleness sweep done", "deleted", n, "cutoff", cutoff)
	return n, nil
}

func (s *Service) audit(ctx context.Context, agent domain.AgentID, action, detail string) {
	if s.activity == nil {
		return
	}
	entry := &domain.ActivityEntry{
		ID:        uuid.NewString(),
		Agent:     agent,
		Action:    action,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}
	s.tasks.Go(ctx, "activity-"+action, func(ctx context.Context) error {
		return s.activity.AppendActivity(ctx, entry)
	})
}
