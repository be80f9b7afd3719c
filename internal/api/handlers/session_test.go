package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finclaw/agentd/internal/domain"
	"github.com/finclaw/agentd/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBrowser struct {
	session  *domain.Session
	getErr   error
	page     *service.SessionPageResult
	messages []*domain.Message
	listUser string
}

func (s *stubBrowser) Get(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	return s.session, s.getErr
}

func (s *stubBrowser) List(ctx context.Context, userID, cursor string, limit int) *service.SessionPageResult {
	s.listUser = userID
	return s.page
}

func (s *stubBrowser) LoadMessages(ctx context.Context, sessionID string, limit int) []*domain.Message {
	return s.messages
}

type stubExporter struct {
	url string
	err error
}

func (s *stubExporter) Export(ctx context.Context, sessionID, userID string) (string, error) {
	return s.url, s.err
}

func TestSessionList_ScopedToCaller(t *testing.T) {
	browser := &stubBrowser{page: &service.SessionPageResult{
		Items: []*domain.Session{{
			ID:        "sess-1",
			UserID:    "user-1",
			Channel:   domain.ChannelWeb,
			UpdatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		}},
		NextCursor: "abc",
		HasMore:    true,
	}}
	handler := NewSessionHandler(browser, &stubExporter{})

	req := httptest.NewRequest(http.MethodGet, "/sessions?limit=10", nil)
	req = withProfile(req, &domain.Profile{ID: "user-1"})
	w := httptest.NewRecorder()

	handler.List(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", browser.listUser)
	assert.Contains(t, w.Body.String(), `"next_cursor":"abc"`)
	assert.Contains(t, w.Body.String(), `"has_more":true`)
}

func TestSessionList_Unauthenticated(t *testing.T) {
	handler := NewSessionHandler(&stubBrowser{}, &stubExporter{})

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionMessages_ForeignSessionReadsAsNotFound(t *testing.T) {
	browser := &stubBrowser{getErr: domain.ErrSessionNotFound}
	handler := NewSessionHandler(browser, &stubExporter{})

	router := chi.NewRouter()
	router.Get("/sessions/{id}/messages", handler.Messages)

	req := httptest.NewRequest(http.MethodGet, "/sessions/not-mine/messages", nil)
	req = withProfile(req, &domain.Profile{ID: "user-1"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionMessages_ReturnsHistory(t *testing.T) {
	browser := &stubBrowser{
		session: &domain.Session{ID: "sess-1", UserID: "user-1"},
		messages: []*domain.Message{
			{ID: "m1", Role: domain.RoleUser, Content: "hi"},
			{ID: "m2", Role: domain.RoleAssistant, Content: "hello"},
		},
	}
	handler := NewSessionHandler(browser, &stubExporter{})

	router := chi.NewRouter()
	router.Get("/sessions/{id}/messages", handler.Messages)

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-1/messages", nil)
	req = withProfile(req, &domain.Profile{ID: "user-1"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"content":"hi"`)
	assert.Contains(t, w.Body.String(), `"content":"hello"`)
}

func TestSessionExport_ReturnsURL(t *testing.T) {
	browser := &stubBrowser{session: &domain.Session{ID: "sess-1", UserID: "user-1"}}
	exporter := &stubExporter{url: "https://store.example/transcripts/user-1/sess-1.json?sig=abc"}
	handler := NewSessionHandler(browser, exporter)

	router := chi.NewRouter()
	router.Post("/sessions/{id}/export", handler.Export)

	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/export", nil)
	req = withProfile(req, &domain.Profile{ID: "user-1"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sess-1.json")
}

func TestSessionExport_NotConfigured(t *testing.T) {
	handler := NewSessionHandler(&stubBrowser{}, nil)

	router := chi.NewRouter()
	router.Post("/sessions/{id}/export", handler.Export)

	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/export", nil)
	req = withProfile(req, &domain.Profile{ID: "user-1"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
