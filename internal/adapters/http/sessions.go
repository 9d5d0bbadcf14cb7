package httpadapter

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/PabloGalante/katana-portal/internal/app/session"
	"github.com/PabloGalante/katana-portal/internal/domain"
)

// ─────────────────────────────────────────────
// DTOs
// ─────────────────────────────────────────────

type createSessionRequest struct {
	Owner       string            `json:"owner,omitempty"`
	Mode        string            `json:"mode,omitempty"`
	CallerAgent string            `json:"callerAgent,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type listSessionsResponse struct {
	Sessions []*domain.Session `json:"sessions"`
}

type historyResponse struct {
	Session     *domain.Session   `json:"session"`
	Messages    []*domain.Message `json:"messages"`
	RotatedFrom domain.SessionID  `json:"rotatedFrom,omitempty"`
}

type closeSessionResponse struct {
	Closed      *domain.Session `json:"closed"`
	Replacement *domain.Session `json:"session"`
}

type delegateRequest struct {
	SessionID   string `json:"sessionId"`
	CallerAgent string `json:"callerAgent,omitempty"`
	TargetAgent string `json:"targetAgent"`
	Task        string `json:"task"`
}

type listDelegationsResponse struct {
	Delegations []*domain.Delegation `json:"delegations"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ─────────────────────────────────────────────
// Sessions
// ─────────────────────────────────────────────

// /sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		s.handleListSessions(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /sessions/{id}, /sessions/{id}/messages, /sessions/{id}/close
func (s *Server) handleSessionWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	id := domain.SessionID(parts[0])

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGetSession(w, r, id)
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		s.handleSessionMessages(w, r, id)
	case len(parts) == 2 && parts[1] == "close" && r.Method == http.MethodPost:
		s.handleCloseSession(w, r, id)
	case len(parts) <= 2:
		methodNotAllowed(w)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	mode, ok := domain.ParseMode(req.Mode)
	if !ok {
		badRequest(w, "unknown mode: "+req.Mode)
		return
	}

	sess, err := s.sessions.CreateSession(r.Context(), session.CreateInput{
		Owner:       domain.AgentID(req.Owner),
		Mode:        mode,
		CallerAgent: domain.AgentID(req.CallerAgent),
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.SessionFilter{Owner: domain.AgentID(q.Get("owner"))}
	switch st := domain.SessionStatus(q.Get("status")); st {
	case "", domain.SessionActive, domain.SessionClosed:
		filter.Status = st
	default:
		badRequest(w, "unknown status: "+string(st))
		return
	}

	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	filter.Limit = limit

	sessions, err := s.sessions.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	sess, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	limit, ok := parseLimit(w, r.URL.Query().Get("limit"))
	if !ok {
		return
	}

	h, err := s.sessions.ResumeHistory(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	msgs := h.Messages
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Session:     h.Session,
		Messages:    msgs,
		RotatedFrom: h.RotatedFrom,
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	closed, replacement, err := s.sessions.CloseAndReplace(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closeSessionResponse{Closed: closed, Replacement: replacement})
}

// ─────────────────────────────────────────────
// Delegations
// ─────────────────────────────────────────────

// /delegations
func (s *Server) handleDelegations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleDelegate(w, r)
	case http.MethodGet:
		s.handleListDelegations(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /delegations/{id}/status
func (s *Server) handleDelegationWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/delegations/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "status" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req transitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := s.sessions.TransitionDelegation(r.Context(), session.TransitionInput{
		ID:     parts[0],
		Status: domain.DelegationStatus(req.Status),
		Result: req.Result,
		Error:  req.Error,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	var req delegateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := s.sessions.Delegate(r.Context(), session.DelegateInput{
		SessionID:   domain.SessionID(req.SessionID),
		CallerAgent: domain.AgentID(req.CallerAgent),
		TargetAgent: domain.AgentID(req.TargetAgent),
		Task:        req.Task,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDelegations(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		badRequest(w, "sessionId is required")
		return
	}

	ds, err := s.sessions.ListDelegations(r.Context(), domain.SessionID(id))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ds == nil {
		ds = []*domain.Delegation{}
	}
	writeJSON(w, http.StatusOK, listDelegationsResponse{Delegations: ds})
}

func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(w, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}
