package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/finclaw/agentd/internal/api/handlers"
	"github.com/finclaw/agentd/internal/domain"
	"github.com/finclaw/agentd/internal/ratelimit"
	"github.com/finclaw/agentd/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockIdentityResolver struct {
	mock.Mock
}

func (m *MockIdentityResolver) Resolve(ctx context.Context, token string) (*domain.Profile, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

type fakeChat struct {
	content string
}

func (f *fakeChat) Stream(ctx context.Context, input service.ChatInput, sink func(string) error) (*service.ChatResult, error) {
	if sink != nil {
		if err := sink(f.content); err != nil {
			return nil, err
		}
	}
	return &service.ChatResult{Content: f.content}, nil
}

type fakeSessionService struct{}

func (f *fakeSessionService) GetOrCreate(ctx context.Context, userID string, channel domain.SessionChannel, sessionID string) (*domain.Session, error) {
	return &domain.Session{ID: "sess-router", UserID: userID, Channel: channel}, nil
}

func (f *fakeSessionService) Get(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	return nil, domain.ErrSessionNotFound
}

func (f *fakeSessionService) List(ctx context.Context, userID, cursor string, limit int) *service.SessionPageResult {
	return &service.SessionPageResult{Items: []*domain.Session{}}
}

func (f *fakeSessionService) LoadMessages(ctx context.Context, sessionID string, limit int) []*domain.Message {
	return nil
}

type fakeKnowledgeService struct{}

func (f *fakeKnowledgeService) Create(ctx context.Context, input service.CreateKnowledgeInput) (*domain.KnowledgeDocument, error) {
	return &domain.KnowledgeDocument{ID: "doc-1", Title: input.Title, Content: input.Content, Source: "faq"}, nil
}

func (f *fakeKnowledgeService) GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error) {
	return nil, domain.ErrKnowledgeNotFound
}

func (f *fakeKnowledgeService) List(ctx context.Context, limit int) ([]*domain.KnowledgeDocument, error) {
	return nil, nil
}

func (f *fakeKnowledgeService) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	return domain.ErrKnowledgeNotFound
}

type fakeExporter struct{}

func (f *fakeExporter) Export(ctx context.Context, sessionID, userID string) (string, error) {
	return "", domain.ErrSessionNotFound
}

func setupRouter(agentMax, publicMax int) (http.Handler, *MockIdentityResolver) {
	resolver := new(MockIdentityResolver)
	sessions := &fakeSessionService{}

	cfg := RouterConfig{
		IdentityResolver: resolver,
		AgentLimiter:     ratelimit.New(agentMax, time.Minute),
		PublicLimiter:    ratelimit.New(publicMax, time.Minute),
		AgentHandler:     handlers.NewAgentHandler(&fakeChat{content: "hello"}, sessions, "Finclaw", "gpt-4o"),
		KnowledgeHandler: handlers.NewKnowledgeHandler(&fakeKnowledgeService{}),
		SessionHandler:   handlers.NewSessionHandler(sessions, &fakeExporter{}),
	}

	return NewRouter(cfg), resolver
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router, _ := setupRouter(10, 10)

	req := httptest.NewRequest(http.MethodGet, "/agent/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "Finclaw", resp["name"])
}

func TestRouter_AuthenticatedRoutesRequireAuth(t *testing.T) {
	router, _ := setupRouter(10, 10)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/agent"},
		{http.MethodGet, "/sessions"},
		{http.MethodGet, "/sessions/123/messages"},
		{http.MethodPost, "/sessions/123/export"},
		{http.MethodPost, "/knowledge"},
		{http.MethodGet, "/knowledge"},
		{http.MethodGet, "/knowledge/123"},
		{http.MethodPut, "/knowledge/123/metadata"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRouter_ChatWithValidAuth(t *testing.T) {
	router, resolver := setupRouter(10, 10)
	resolver.On("Resolve", mock.Anything, "good-token").
		Return(&domain.Profile{ID: "user-1", Role: domain.RoleDefault}, nil)

	req := httptest.NewRequest(http.MethodPost, "/agent",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "sess-router", w.Header().Get("X-Agent-Session-Id"))
	resolver.AssertExpectations(t)
}

func TestRouter_PublicChatNoAuth(t *testing.T) {
	router, _ := setupRouter(10, 10)

	req := httptest.NewRequest(http.MethodPost, "/agent/public",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
}

func TestRouter_PublicRateLimitIndependentOfAgent(t *testing.T) {
	router, resolver := setupRouter(10, 1)
	resolver.On("Resolve", mock.Anything, "good-token").
		Return(&domain.Profile{ID: "user-1", Role: domain.RoleDefault}, nil)

	// Exhaust the public budget.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/agent/public",
			strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
		req.RemoteAddr = "203.0.113.5:1000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if i == 1 {
			assert.Equal(t, http.StatusTooManyRequests, w.Code)
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		}
	}

	// The authenticated surface still has budget.
	req := httptest.NewRequest(http.MethodPost, "/agent",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Authorization", "Bearer good-token")
	req.RemoteAddr = "203.0.113.5:1000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
