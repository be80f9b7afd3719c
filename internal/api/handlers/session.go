package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/finclaw/agentd/internal/api"
	"github.com/finclaw/agentd/internal/api/middleware"
	"github.com/finclaw/agentd/internal/domain"
	"github.com/finclaw/agentd/internal/service"
	"github.com/go-chi/chi/v5"
)

type SessionBrowser interface {
	Get(ctx context.Context, sessionID, userID string) (*domain.Session, error)
	List(ctx context.Context, userID, cursor string, limit int) *service.SessionPageResult
	LoadMessages(ctx context.Context, sessionID string, limit int) []*domain.Message
}

type TranscriptExporter interface {
	Export(ctx context.Context, sessionID, userID string) (string, error)
}

// SessionHandler serves the session browsing endpoints. Every lookup is
// scoped to the authenticated caller.
type SessionHandler struct {
	sessions SessionBrowser
	archive  TranscriptExporter
}

func NewSessionHandler(sessions SessionBrowser, archive TranscriptExporter) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		archive:  archive,
	}
}

type SessionResponse struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	Title     string `json:"title,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type SessionPageResponse struct {
	Sessions   []*SessionResponse `json:"sessions"`
	NextCursor string             `json:"next_cursor,omitempty"`
	HasMore    bool               `json:"has_more"`
}

type MessageResponse struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	ToolCalls []domain.ToolCall `json:"tool_calls,omitempty"`
	CreatedAt string            `json:"created_at"`
}

func sessionToResponse(s *domain.Session) *SessionResponse {
	return &SessionResponse{
		ID:        s.ID,
		Channel:   string(s.Channel),
		Title:     s.Title,
		CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt: s.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// List handles GET /sessions with cursor pagination.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfile(r.Context())
	if profile == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page := h.sessions.List(r.Context(), profile.ID, r.URL.Query().Get("cursor"), limit)

	sessions := make([]*SessionResponse, 0, len(page.Items))
	for _, s := range page.Items {
		sessions = append(sessions, sessionToResponse(s))
	}
	api.Success(w, http.StatusOK, SessionPageResponse{
		Sessions:   sessions,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

// Messages handles GET /sessions/{id}/messages. The session is resolved
// through the caller's ownership scope first, so foreign session ids read as
// not found.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfile(r.Context())
	if profile == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	session, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"), profile.ID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	messages := h.sessions.LoadMessages(r.Context(), session.ID, 0)
	responses := make([]*MessageResponse, 0, len(messages))
	for _, m := range messages {
		responses = append(responses, &MessageResponse{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			ToolCalls: m.ToolCalls,
			CreatedAt: m.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	api.Success(w, http.StatusOK, responses)
}

// Export handles POST /sessions/{id}/export, archiving the transcript and
// returning a download URL.
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfile(r.Context())
	if profile == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.archive == nil {
		api.Error(w, http.StatusNotImplemented, "transcript archival is not configured")
		return
	}

	url, err := h.archive.Export(r.Context(), chi.URLParam(r, "id"), profile.ID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"url": url})
}
