package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/finclaw/agentd/internal/api"
	"github.com/finclaw/agentd/internal/api/middleware"
	"github.com/finclaw/agentd/internal/domain"
	"github.com/finclaw/agentd/internal/service"
	"github.com/go-chi/chi/v5"
)

type KnowledgeService interface {
	Create(ctx context.Context, input service.CreateKnowledgeInput) (*domain.KnowledgeDocument, error)
	GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error)
	List(ctx context.Context, limit int) ([]*domain.KnowledgeDocument, error)
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
}

// KnowledgeHandler serves the knowledge curation endpoints. All of them are
// admin-only; the knowledge base is written by staff, not callers.
type KnowledgeHandler struct {
	svc KnowledgeService
}

func NewKnowledgeHandler(svc KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc}
}

type CreateKnowledgeRequest struct {
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata"`
}

type UpdateKnowledgeMetadataRequest struct {
	Metadata map[string]any `json:"metadata"`
}

type KnowledgeResponse struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedded  bool           `json:"embedded"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

func knowledgeToResponse(d *domain.KnowledgeDocument) *KnowledgeResponse {
	return &KnowledgeResponse{
		ID:        d.ID,
		Title:     d.Title,
		Content:   d.Content,
		Source:    d.Source,
		Metadata:  d.Metadata,
		Embedded:  len(d.Embedding) > 0,
		CreatedAt: d.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt: d.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// requireAdmin enforces the internal tier on curation endpoints.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	profile := middleware.GetProfile(r.Context())
	if profile == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if domain.TierForRole(profile.Role) != domain.TierInternal {
		api.HandleError(w, domain.ErrTierForbidden)
		return false
	}
	return true
}

func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req CreateKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		api.Error(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Content == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	doc, err := h.svc.Create(r.Context(), service.CreateKnowledgeInput{
		Title:    req.Title,
		Content:  req.Content,
		Source:   req.Source,
		Metadata: req.Metadata,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, knowledgeToResponse(doc))
}

func (h *KnowledgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	doc, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, knowledgeToResponse(doc))
}

func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
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

	docs, err := h.svc.List(r.Context(), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*KnowledgeResponse, 0, len(docs))
	for _, d := range docs {
		responses = append(responses, knowledgeToResponse(d))
	}
	api.Success(w, http.StatusOK, responses)
}

// UpdateMetadata handles PUT /knowledge/{id}/metadata. Only metadata is
// editable; title and content changes would desync the stored embedding.
func (h *KnowledgeHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req UpdateKnowledgeMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Metadata == nil {
		api.Error(w, http.StatusBadRequest, "metadata is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.svc.UpdateMetadata(r.Context(), id, req.Metadata); err != nil {
		api.HandleError(w, err)
		return
	}

	doc, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, knowledgeToResponse(doc))
}
