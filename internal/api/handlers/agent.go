package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/finclaw/agentd/internal/api"
	"github.com/finclaw/agentd/internal/api/middleware"
	"github.com/finclaw/agentd/internal/domain"
	"github.com/finclaw/agentd/internal/service"
)

// ChatStreamer runs one conversational turn, streaming text deltas to sink.
type ChatStreamer interface {
	Stream(ctx context.Context, input service.ChatInput, sink func(string) error) (*service.ChatResult, error)
}

// SessionResolver resolves the session for a turn.
type SessionResolver interface {
	GetOrCreate(ctx context.Context, userID string, channel domain.SessionChannel, sessionID string) (*domain.Session, error)
}

// AgentHandler serves the conversational endpoints.
type AgentHandler struct {
	chat     ChatStreamer
	sessions SessionResolver
	name     string
	model    string
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(chat ChatStreamer, sessions SessionResolver, name, model string) *AgentHandler {
	return &AgentHandler{
		chat:     chat,
		sessions: sessions,
		name:     name,
		model:    model,
	}
}

type chatMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	// Some clients send the session id camel-cased.
	SessionIDAlias string               `json:"sessionId"`
	Messages       []chatMessageRequest `json:"messages"`
}

func (r *chatRequest) sessionID() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.SessionIDAlias
}

func (r *chatRequest) toMessages() ([]service.ChatMessage, error) {
	if len(r.Messages) == 0 {
		return nil, domain.ErrEmptyMessages
	}
	messages := make([]service.ChatMessage, 0, len(r.Messages))
	for _, m := range r.Messages {
		role := domain.MessageRole(m.Role)
		if role != domain.RoleUser && role != domain.RoleAssistant {
			return nil, domain.ErrInvalidRole
		}
		messages = append(messages, service.ChatMessage{Role: role, Content: m.Content})
	}
	return messages, nil
}

// Chat handles POST /agent: one authenticated conversational turn, streamed
// as plain text. The resolved session id travels in a response header so the
// body stays pure model output.
func (h *AgentHandler) Chat(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfile(r.Context())
	if profile == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	messages, err := req.toMessages()
	if err != nil {
		api.HandleError(w, err)
		return
	}

	session, err := h.sessions.GetOrCreate(r.Context(), profile.ID, domain.ChannelWeb, req.sessionID())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	h.stream(w, r, service.ChatInput{
		Profile:   profile,
		Tier:      domain.TierForRole(profile.Role),
		SessionID: session.ID,
		Messages:  messages,
	}, session.ID)
}

// PublicChat handles POST /agent/public: the anonymous surface. Callers get
// the public tier and no persistence; nothing they say is attributable to an
// account.
func (h *AgentHandler) PublicChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	messages, err := req.toMessages()
	if err != nil {
		api.HandleError(w, err)
		return
	}

	h.stream(w, r, service.ChatInput{
		Tier:     domain.TierPublic,
		Messages: messages,
	}, "")
}

// stream runs the turn, flushing deltas as they arrive. Once the first byte
// is written the status is committed, so later failures can only be logged.
func (h *AgentHandler) stream(w http.ResponseWriter, r *http.Request, input service.ChatInput, sessionID string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if sessionID != "" {
		w.Header().Set("X-Agent-Session-Id", sessionID)
	}

	flusher, _ := w.(http.Flusher)
	wrote := false

	_, err := h.chat.Stream(r.Context(), input, func(delta string) error {
		if _, err := w.Write([]byte(delta)); err != nil {
			return err
		}
		wrote = true
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		if wrote {
			log.Printf("chat stream aborted after output started: %v", err)
			return
		}
		api.HandleError(w, err)
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Name      string `json:"name"`
	Model     string `json:"model"`
	Timestamp string `json:"timestamp"`
}

// Health handles GET /agent/health.
func (h *AgentHandler) Health(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Name:      h.name,
		Model:     h.model,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
