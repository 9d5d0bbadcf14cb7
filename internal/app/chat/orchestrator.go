// Package chat runs one chat turn: validate, load context, classify,
// compose, stream upstream tokens to the browser and persist the result.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/katana-portal/internal/adapters/llm"
	"github.com/PabloGalante/katana-portal/internal/app/attachments"
	"github.com/PabloGalante/katana-portal/internal/app/commander"
	"github.com/PabloGalante/katana-portal/internal/app/detached"
	"github.com/PabloGalante/katana-portal/internal/app/escalation"
	"github.com/PabloGalante/katana-portal/internal/app/prompt"
	"github.com/PabloGalante/katana-portal/internal/domain"
	"github.com/PabloGalante/katana-portal/internal/observability"
)

const DefaultHistoryWindow = 20

// User-facing messages. Raw provider errors stay in the logs.
const (
	upstreamFailureMessage = "The assistant is unavailable right now. Please try again in a moment."
	notConfiguredMessage   = "Chat service is not configured."
)

// State names a step of a chat turn, as logged.
type State string

const (
	StateValidating     State = "validating"
	StateLoadingContext State = "loading_context"
	StateClassifying    State = "classifying"
	StateComposing      State = "composing"
	StateStreaming      State = "streaming"
	StatePersisting     State = "persisting"
	StateDone           State = "done"
	StateError          State = "error"
)

// ConfigError is an operator misconfiguration, reported as a 500.
type ConfigError struct {
	Provider string
	Err      error
}

func (e *ConfigError) Error() string { return notConfiguredMessage }

func (e *ConfigError) Unwrap() error { return e.Err }

// SessionTracker is the slice of the session manager a turn needs.
type SessionTracker interface {
	GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	IncrementMessageCount(ctx context.Context, id domain.SessionID)
}

type Deps struct {
	Loader *commander.Loader
	// Provider answers operator and advisor turns; Gateway answers katana
	// turns.
	Provider domain.ChatProvider
	Gateway  domain.ChatProvider
	Messages domain.MessageStore
	Sessions SessionTracker
	Tasks    *detached.Runner

	HistoryWindow int
}

type Orchestrator struct {
	loader   *commander.Loader
	provider domain.ChatProvider
	gateway  domain.ChatProvider
	messages domain.MessageStore
	sessions SessionTracker
	tasks    *detached.Runner
	window   int
	now      func() time.Time
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.Tasks == nil {
		d.Tasks = &detached.Runner{}
	}
	if d.HistoryWindow <= 0 {
		d.HistoryWindow = DefaultHistoryWindow
	}
	return &Orchestrator{
		loader:   d.Loader,
		provider: d.Provider,
		gateway:  d.Gateway,
		messages: d.Messages,
		sessions: d.Sessions,
		tasks:    d.Tasks,
		window:   d.HistoryWindow,
		now:      time.Now,
	}
}

type Request struct {
	Message     string                       `json:"message"`
	Mode        string                       `json:"mode,omitempty"`
	Attachments []domain.ProcessedAttachment `json:"attachments,omitempty"`
	History     []domain.HistoryTurn         `json:"conversationHistory,omitempty"`
	SessionID   domain.SessionID             `json:"sessionId,omitempty"`
}

// Turn is a validated request, ready to stream.
type Turn struct {
	o        *Orchestrator
	text     string
	mode     domain.Mode
	atts     []domain.ProcessedAttachment
	history  []domain.HistoryTurn
	session  domain.SessionID
	provider domain.ChatProvider
	started  time.Time
}

func (t *Turn) Mode() domain.Mode { return t.mode }

// Prepare runs everything that can reject the request before the stream
// opens. Errors are *domain.ValidationError (400), *ConfigError (500) or
// domain.ErrSessionClosed (409) when the turn targets a closed session.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (*Turn, error) {
	started := o.now()
	log := observability.LoggerFromContext(ctx).With("state", StateValidating)

	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, domain.Invalid("message is required")
	}

	mode, ok := domain.ParseMode(req.Mode)
	if !ok {
		return nil, domain.Invalid("unknown mode %q", req.Mode)
	}

	if err := attachments.ValidateBatch(req.Attachments); err != nil {
		return nil, &domain.ValidationError{Reason: err.Error()}
	}

	if err := o.checkSessionOpen(ctx, req.SessionID); err != nil {
		return nil, err
	}

	provider := o.provider
	if mode == domain.ModeKatana {
		provider = o.gateway
	}
	if provider == nil {
		log.Error("no chat provider wired", "mode", mode)
		return nil, &ConfigError{Err: fmt.Errorf("mode %s: %w", mode, domain.ErrMissingCredential)}
	}
	if err := provider.Configured(); err != nil {
		log.Error("chat provider not configured", "provider", provider.Name(), "error", err)
		return nil, &ConfigError{Provider: provider.Name(), Err: err}
	}

	return &Turn{
		o:        o,
		text:     text,
		mode:     mode,
		atts:     req.Attachments,
		history:  req.History,
		session:  req.SessionID,
		provider: provider,
		started:  started,
	}, nil
}

// checkSessionOpen rejects turns against closed sessions. Ids the store has
// never seen are let through and persisted under that id.
func (o *Orchestrator) checkSessionOpen(ctx context.Context, id domain.SessionID) error {
	if id == "" || o.sessions == nil {
		return nil
	}
	sess, err := o.sessions.GetSession(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		observability.LoggerFromContext(ctx).Warn("session lookup failed", "session_id", id, "error", err)
		return nil
	case sess.Status != domain.SessionActive:
		return fmt.Errorf("session %s is %s: %w", id, sess.Status, domain.ErrSessionClosed)
	}
	return nil
}

// Outcome is what a streamed turn produced.
type Outcome struct {
	Text    string
	Trigger domain.Trigger
	Err     error
}

type turnContext struct {
	profileVersion string
	memoryCount    int
	loadElapsed    time.Duration
	trigger        domain.Trigger
	messages       []domain.ChatMessage
}

// Stream emits the turn's events to sink and always ends with [DONE].
// Nothing here can reject the request: failures become an error event.
func (t *Turn) Stream(ctx context.Context, sink Sink) Outcome {
	log := observability.LoggerFromContext(ctx).With(
		"session_id", t.session,
		"mode", t.mode,
		"provider", t.provider.Name(),
	)
	defer func() {
		_ = sink.Done()
		log.Info("chat turn finished", "state", StateDone, "elapsed_ms", time.Since(t.started).Milliseconds())
	}()

	tc := t.gather(ctx)

	// streaming
	send := func(v any) bool {
		if err := sink.Send(v); err != nil {
			log.Warn("client went away", "state", StateStreaming, "error", err)
			return false
		}
		return true
	}

	if !send(MetaEvent{Type: EventMeta, ProfileVersion: tc.profileVersion, MemoryCount: tc.memoryCount, Mode: t.mode}) {
		return Outcome{Err: ctx.Err()}
	}
	if t.mode != domain.ModeKatana {
		send(logEvent(fmt.Sprintf("Context loaded in %dms (profile %s, %d memory entries)",
			tc.loadElapsed.Milliseconds(), tc.profileVersion, tc.memoryCount)))
	} else {
		send(logEvent("Routing to Katana gateway"))
	}
	for _, a := range t.atts {
		send(logEvent("Attachment: " + attachments.Summary(a)))
	}
	if tc.trigger != "" {
		if !send(EscalationEvent{Type: EventEscalation, Trigger: tc.trigger, Severity: escalation.Severity(tc.trigger)}) {
			return Outcome{Trigger: tc.trigger, Err: ctx.Err()}
		}
	}

	userSaved := t.persist(ctx, domain.RoleUser, t.text, attachments.Metas(t.atts), nil)

	upstreamStart := time.Now()
	streamCtx := ctx
	if t.mode == domain.ModeKatana {
		streamCtx = llm.WithSessionID(ctx, t.session)
	}

	stream, err := t.provider.StreamChat(streamCtx, tc.messages)
	if err != nil {
		logUpstreamError(log, err)
		send(ErrorEvent{Type: EventError, Message: upstreamFailureMessage})
		return Outcome{Trigger: tc.trigger, Err: err}
	}
	defer stream.Close()

	var reply strings.Builder
	var streamErr error
	for tok, err := range stream.Tokens() {
		if err != nil {
			streamErr = err
			break
		}
		reply.WriteString(tok)
		if !send(TokenEvent{Type: EventToken, Content: tok}) {
			streamErr = errors.Join(context.Cause(ctx), errClientGone)
			break
		}
	}

	latency := time.Since(upstreamStart)
	switch {
	case streamErr == nil:
		send(logEvent(fmt.Sprintf("Response completed in %dms", latency.Milliseconds())))
	case errors.Is(streamErr, errClientGone):
		// nothing left to tell the browser
	default:
		logUpstreamError(log, streamErr)
		send(ErrorEvent{Type: EventError, Message: upstreamFailureMessage})
	}

	// persisting
	text := reply.String()
	if text != "" {
		t.persist(ctx, domain.RoleAssistant, text, nil, userSaved)
	}
	log.Info("upstream stream finished",
		"state", StatePersisting,
		"latency_ms", latency.Milliseconds(),
		"reply_chars", len(text),
	)

	return Outcome{Text: text, Trigger: tc.trigger, Err: streamErr}
}

var errClientGone = errors.New("client disconnected")

// gather runs loading_context and classifying concurrently, then composes.
func (t *Turn) gather(ctx context.Context) turnContext {
	log := observability.LoggerFromContext(ctx)
	var tc turnContext
	var loaded commander.Context

	g, gctx := errgroup.WithContext(ctx)
	if t.mode != domain.ModeKatana && t.o.loader != nil {
		g.Go(func() error {
			loaded = t.o.loader.Load(gctx)
			log.Info("context loaded", "state", StateLoadingContext, "elapsed_ms", loaded.Elapsed.Milliseconds())
			return nil
		})
	}
	g.Go(func() error {
		if trigger, ok := escalation.Classify(t.text, t.mode); ok {
			tc.trigger = trigger
			log.Info("escalation trigger raised", "state", StateClassifying, "trigger", trigger)
		}
		return nil
	})
	_ = g.Wait()

	start := time.Now()
	userContent := attachments.BuildMultimodalMessage(t.text, t.atts)

	if t.mode == domain.ModeKatana {
		tc.messages = []domain.ChatMessage{{Role: domain.RoleUser, Content: userContent}}
		return tc
	}

	if t.o.loader == nil {
		loaded.Profile = domain.FallbackProfile()
	}
	tc.profileVersion = loaded.Profile.Version
	tc.memoryCount = len(loaded.Memory)
	tc.loadElapsed = loaded.Elapsed

	msgs := make([]domain.ChatMessage, 0, t.o.window+2)
	msgs = append(msgs, domain.ChatMessage{
		Role:    domain.RoleSystem,
		Content: domain.TextContent(prompt.Compose(loaded.Profile, loaded.Memory, t.mode)),
	})
	msgs = append(msgs, t.priorTurns(ctx)...)
	msgs = append(msgs, domain.ChatMessage{Role: domain.RoleUser, Content: userContent})
	tc.messages = msgs

	log.Info("prompt composed",
		"state", StateComposing,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"messages", len(msgs),
		"multimodal", userContent.IsMultimodal(),
	)
	return tc
}

// priorTurns prefers the browser's copy of the conversation and falls back
// to the stored one. Either way only the last window turns are kept.
func (t *Turn) priorTurns(ctx context.Context) []domain.ChatMessage {
	turns := t.history
	if len(turns) == 0 && t.session != "" && t.o.messages != nil {
		stored, err := t.o.messages.GetMessagesBySession(ctx, t.session, t.o.window)
		if err != nil {
			observability.LoggerFromContext(ctx).Warn("history unavailable", "session_id", t.session, "error", err)
		}
		for _, m := range stored {
			turns = append(turns, domain.HistoryTurn{Role: m.Role, Content: m.Content})
		}
	}

	out := make([]domain.ChatMessage, 0, len(turns))
	for _, h := range turns {
		if h.Role != domain.RoleUser && h.Role != domain.RoleAssistant {
			continue
		}
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		out = append(out, domain.ChatMessage{Role: h.Role, Content: domain.TextContent(h.Content)})
	}
	if len(out) > t.o.window {
		out = out[len(out)-t.o.window:]
	}
	return out
}

// persist stores a turn (metadata only for attachments) and bumps the
// session counter without holding up the stream. The write starts once
// after is closed, so a reply is never stored ahead of its question.
func (t *Turn) persist(ctx context.Context, role domain.Role, content string, metas []domain.AttachmentMeta, after <-chan struct{}) <-chan struct{} {
	saved := make(chan struct{})
	if t.session == "" || t.o.messages == nil {
		close(saved)
		return saved
	}
	msg := &domain.Message{
		ID:          domain.MessageID(uuid.NewString()),
		SessionID:   t.session,
		Role:        role,
		Content:     content,
		Attachments: metas,
		CreatedAt:   t.o.now().UTC(),
	}
	t.o.tasks.Go(ctx, "persist-"+string(role)+"-message", func(ctx context.Context) error {
		defer close(saved)
		if after != nil {
			select {
			case <-after:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := t.o.messages.AppendMessage(ctx, msg); err != nil {
			return err
		}
		if t.o.sessions != nil {
			t.o.sessions.IncrementMessageCount(ctx, t.session)
		}
		return nil
	})
	return saved
}

func logUpstreamError(log *slog.Logger, err error) {
	var upErr *llm.UpstreamError
	if errors.As(err, &upErr) {
		log.Error("upstream request failed", "state", StateError, "status", upErr.StatusCode, "body", upErr.Body)
		return
	}
	log.Error("upstream stream failed", "state", StateError, "error", err)
}
