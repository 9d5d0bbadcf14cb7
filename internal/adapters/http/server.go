package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/PabloGalante/katana-portal/internal/app/chat"
	"github.com/PabloGalante/katana-portal/internal/app/commander"
	"github.com/PabloGalante/katana-portal/internal/app/escalation"
	"github.com/PabloGalante/katana-portal/internal/app/session"
	"github.com/PabloGalante/katana-portal/internal/domain"
	"github.com/PabloGalante/katana-portal/internal/observability"
)

// maxJSONBody covers five attachments at the base64 ceiling plus text.
const maxJSONBody = 80 << 20

type Deps struct {
	Chat        *chat.Orchestrator
	Sessions    *session.Service
	Escalations *escalation.Service
	Memory      domain.MemoryStore
	Loader      *commander.Loader
}

type Server struct {
	chat        *chat.Orchestrator
	sessions    *session.Service
	escalations *escalation.Service
	memory      domain.MemoryStore
	loader      *commander.Loader
}

func NewServer(d Deps) http.Handler {
	s := &Server{
		chat:        d.Chat,
		sessions:    d.Sessions,
		escalations: d.Escalations,
		memory:      d.Memory,
		loader:      d.Loader,
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)

	// /chat → stream one chat turn (POST, SSE)
	mux.HandleFunc("/chat", s.handleChat)

	// /escalate → submit a handoff packet (POST)
	// /escalations/{id} → fetch one (GET)
	mux.HandleFunc("/escalate", s.handleEscalate)
	mux.HandleFunc("/escalations/", s.handleEscalationWithID)

	// /memory → list (GET) or upsert (POST) memory entries
	mux.HandleFunc("/memory", s.handleMemory)

	// /sessions → create (POST) or list (GET)
	// /sessions/{id}, /sessions/{id}/messages, /sessions/{id}/close
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSessionWithID)

	// /delegations → create (POST) or list (GET)
	// /delegations/{id}/status → transition (POST)
	mux.HandleFunc("/delegations", s.handleDelegations)
	mux.HandleFunc("/delegations/", s.handleDelegationWithID)

	// /attachments → process one multipart file (POST)
	mux.HandleFunc("/attachments", s.handleAttachments)

	return chainMiddlewares(mux, withCORS, withLogging, withRequestID)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "method not allowed",
	})
}

// writeError maps service errors onto status codes. Anything unrecognized
// is logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr    *domain.ValidationError
		permErr *session.PermissionError
		cfgErr  *chat.ConfigError
	)

	switch {
	case errors.As(err, &vErr):
		badRequest(w, vErr.Reason)
	case errors.As(err, &permErr):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":   permErr.Decision.Reason,
			"allowed": false,
		})
	case errors.Is(err, domain.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "permission denied"})
	case errors.Is(err, domain.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded, try again shortly"})
	case errors.Is(err, domain.ErrQuotaExceeded),
		errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.As(err, &cfgErr):
		observability.LoggerFromContext(r.Context()).Error("service not configured", "error", cfgErr.Err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": cfgErr.Error()})
	default:
		observability.LoggerFromContext(r.Context()).Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}
