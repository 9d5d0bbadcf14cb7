package httpadapter

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PabloGalante/katana-portal/internal/adapters/sse"
	"github.com/PabloGalante/katana-portal/internal/app/attachments"
	"github.com/PabloGalante/katana-portal/internal/app/chat"
	"github.com/PabloGalante/katana-portal/internal/app/escalation"
	"github.com/PabloGalante/katana-portal/internal/domain"
)

// ─────────────────────────────────────────────
// Chat
// ─────────────────────────────────────────────

// handleChat validates the turn up front and only then switches the response
// to an event stream. Once streaming, every failure is reported in-band.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req chat.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	turn, err := s.chat.Prepare(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	turn.Stream(r.Context(), sse.NewHTTPWriter(w))
}

// ─────────────────────────────────────────────
// Escalations
// ─────────────────────────────────────────────

type escalateRequest struct {
	ConversationID string                `json:"conversationId"`
	Trigger        string                `json:"trigger"`
	Summary        string                `json:"summary"`
	UserNotes      string                `json:"userNotes,omitempty"`
	History        []domain.HistoryTurn  `json:"conversationHistory,omitempty"`
	From           string                `json:"from,omitempty"`
	Actions        domain.HandoffActions `json:"actions"`
	Risks          []string              `json:"risks,omitempty"`
	NextSteps      []string              `json:"nextSteps,omitempty"`
}

type escalateResponse struct {
	EscalationID string                  `json:"escalationId"`
	Status       domain.EscalationStatus `json:"status"`
	Severity     domain.Severity         `json:"severity"`
	Notified     bool                    `json:"notified"`
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req escalateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := s.escalations.Submit(r.Context(), escalation.SubmitInput{
		ConversationID: req.ConversationID,
		Trigger:        domain.Trigger(req.Trigger),
		Summary:        req.Summary,
		UserNotes:      req.UserNotes,
		History:        req.History,
		From:           domain.AgentID(req.From),
		Actions:        req.Actions,
		Risks:          req.Risks,
		NextSteps:      req.NextSteps,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, escalateResponse{
		EscalationID: out.Packet.ID,
		Status:       out.Packet.Status,
		Severity:     out.Packet.Severity,
		Notified:     out.Notified,
	})
}

// /escalations/{id}
func (s *Server) handleEscalationWithID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/escalations/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	packet, err := s.escalations.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, packet)
}

// ─────────────────────────────────────────────
// Memory
// ─────────────────────────────────────────────

type memoryListResponse struct {
	Entries        []*domain.MemoryEntry `json:"entries"`
	ProfileVersion string                `json:"profileVersion"`
}

type memoryWriteRequest struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Category string `json:"category"`
	Owner    string `json:"owner,omitempty"`
}

type memoryWriteResponse struct {
	Success  bool                  `json:"success"`
	Key      string                `json:"key"`
	Category domain.MemoryCategory `json:"category"`
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListMemory(w, r)
	case http.MethodPost:
		s.handleWriteMemory(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListMemory(w http.ResponseWriter, r *http.Request) {
	owner := domain.AgentID(r.URL.Query().Get("owner"))
	if owner == "" {
		owner = domain.AgentKimi
	}

	entries, err := s.memory.ListMemory(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*domain.MemoryEntry{}
	}

	resp := memoryListResponse{Entries: entries}
	if s.loader != nil {
		resp.ProfileVersion = s.loader.LoadProfile(r.Context()).Version
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWriteMemory(w http.ResponseWriter, r *http.Request) {
	var req memoryWriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" || req.Value == "" {
		badRequest(w, "key and value are required")
		return
	}
	category, ok := domain.ParseMemoryCategory(req.Category)
	if !ok {
		badRequest(w, "unknown memory category: "+req.Category)
		return
	}
	owner := domain.AgentID(req.Owner)
	if owner == "" {
		owner = domain.AgentKimi
	}
	if !domain.IsKnownAgent(owner) {
		badRequest(w, "unknown owner: "+req.Owner)
		return
	}

	entry := &domain.MemoryEntry{
		Key:       req.Key,
		Value:     req.Value,
		Category:  category,
		Owner:     owner,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.memory.UpsertMemory(r.Context(), entry); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, memoryWriteResponse{
		Success:  true,
		Key:      entry.Key,
		Category: entry.Category,
	})
}

// ─────────────────────────────────────────────
// Attachments
// ─────────────────────────────────────────────

// maxUpload leaves room for multipart framing around the largest file.
const maxUpload = attachments.MaxImageBytes + 1<<20

func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
			return
		}
		badRequest(w, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "could not read upload")
		return
	}

	processed, err := attachments.Process(attachments.File{
		Name: header.Filename,
		Size: int64(len(data)),
		Data: data,
	})
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, processed)
}
