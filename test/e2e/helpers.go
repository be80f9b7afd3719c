//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/finclaw/agentd/internal/api/handlers"
	"github.com/finclaw/agentd/internal/domain"
	"github.com/finclaw/agentd/internal/openai"
	"github.com/finclaw/agentd/internal/ratelimit"
	"github.com/finclaw/agentd/internal/repository"
	"github.com/finclaw/agentd/internal/server"
	"github.com/finclaw/agentd/internal/service"
	"github.com/finclaw/agentd/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// AdminToken authenticates as a staff profile with the internal tier.
	AdminToken = "e2e-admin-token"
	// MemberToken authenticates as a regular customer (portal tier).
	MemberToken = "e2e-member-token"

	publicRateLimitMax = 5
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with a pgvector container
// and an in-process server wired to a scripted model and embedder.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse represents a standard API response envelope
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request against a JSON endpoint
func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, int, error) {
	return e.doRequest("GET", path, nil, authToken)
}

// Post performs a POST request against a JSON endpoint
func (e *E2ETestEnv) Post(path string, body interface{}, authToken string) (*APIResponse, int, error) {
	return e.doRequest("POST", path, body, authToken)
}

// Put performs a PUT request against a JSON endpoint
func (e *E2ETestEnv) Put(path string, body interface{}, authToken string) (*APIResponse, int, error) {
	return e.doRequest("PUT", path, body, authToken)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, int, error) {
	resp, err := e.rawRequest(method, path, body, authToken)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return &apiResp, resp.StatusCode, nil
}

// Chat posts a conversational turn and returns the streamed plain-text body,
// the session id header, and the response status.
func (e *E2ETestEnv) Chat(path, authToken, sessionID string, content string) (string, string, int, error) {
	body := map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": content}},
	}
	if sessionID != "" {
		body["session_id"] = sessionID
	}

	resp, err := e.rawRequest("POST", path, body, authToken)
	if err != nil {
		return "", "", 0, err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", resp.StatusCode, err
	}
	return string(text), resp.Header.Get("X-Agent-Session-Id"), resp.StatusCode, nil
}

func (e *E2ETestEnv) rawRequest(method, path string, body interface{}, authToken string) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	return e.HTTPClient.Do(req)
}

// RawPost performs a POST and returns the raw response for header checks.
func (e *E2ETestEnv) RawPost(path string, body interface{}, authToken string) (*http.Response, error) {
	return e.rawRequest("POST", path, body, authToken)
}

// startServer starts an in-process HTTP server with real repositories and
// scripted model, embedder, and identity dependencies.
func startServer(t *testing.T, pool *pgxpool.Pool, port int) (string, func()) {
	knowledgeRepo := repository.NewKnowledgeRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)

	uuidGen := &service.DefaultUUIDGenerator{}
	embedder := &flatEmbedder{}

	knowledgeSvc := service.NewKnowledgeService(knowledgeRepo, embedder, uuidGen)
	searchSvc := service.NewSearchService(embedder, knowledgeRepo)
	sessionSvc := service.NewSessionService(sessionRepo, uuidGen)

	chatSvc := service.NewChatService(&scriptedModel{}, searchSvc, sessionSvc, service.ChatConfig{
		AgentName:        "E2E Agent",
		AgentDescription: "test assistant",
	})

	agentHandler := handlers.NewAgentHandler(chatSvc, sessionSvc, "E2E Agent", "test-model")
	knowledgeHandler := handlers.NewKnowledgeHandler(knowledgeSvc)
	sessionHandler := handlers.NewSessionHandler(sessionSvc, nil)

	router := server.NewRouter(server.RouterConfig{
		IdentityResolver: &staticIdentity{},
		AgentLimiter:     ratelimit.New(1000, time.Minute),
		PublicLimiter:    ratelimit.New(publicRateLimitMax, time.Minute),
		AgentHandler:     agentHandler,
		KnowledgeHandler: knowledgeHandler,
		SessionHandler:   sessionHandler,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/agent/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// staticIdentity resolves two fixed tokens; everything else is rejected.
type staticIdentity struct{}

func (r *staticIdentity) Resolve(ctx context.Context, token string) (*domain.Profile, error) {
	switch token {
	case AdminToken:
		return &domain.Profile{ID: "e2e-admin", FullName: "E2E Admin", Role: domain.RoleAdmin}, nil
	case MemberToken:
		return &domain.Profile{ID: "e2e-member", FullName: "E2E Member", Role: domain.RoleDefault}, nil
	}
	return nil, domain.ErrInvalidSession
}

// flatEmbedder maps every text to the same unit vector, so any stored
// document matches any query with similarity 1. That keeps retrieval tests
// about tier filtering, not vector math.
type flatEmbedder struct{}

func (f *flatEmbedder) embed() []float32 {
	v := make([]float32, 1536)
	v[0] = 1
	return v
}

func (f *flatEmbedder) EmbedQuery(ctx context.Context, text string) []float32 {
	return f.embed()
}

func (f *flatEmbedder) EmbedDocument(ctx context.Context, text string) []float32 {
	return f.embed()
}

// scriptedModel plays the model's side of the tool loop. A user message of
// the form "lookup: <query>" triggers one search tool call; the final answer
// then reports whether the tool found anything. Any other message gets a
// fixed greeting.
type scriptedModel struct{}

func (m *scriptedModel) Model() string { return "test-model" }

func (m *scriptedModel) StreamChat(ctx context.Context, req openai.ChatRequest, onDelta func(string) error) (*openai.StreamResult, error) {
	var lastTool, lastUser string
	for _, turn := range req.Messages {
		switch turn.Role {
		case domain.RoleTool:
			lastTool = turn.Content
		case domain.RoleUser:
			lastUser = turn.Content
		}
	}

	if lastTool != "" {
		answer := "Here is what I found."
		if strings.Contains(lastTool, "No relevant information") {
			answer = "I could not find anything relevant."
		}
		return streamText(answer, onDelta)
	}

	if len(req.Tools) > 0 && strings.HasPrefix(lastUser, "lookup:") {
		query := strings.TrimSpace(strings.TrimPrefix(lastUser, "lookup:"))
		args, _ := json.Marshal(map[string]string{"query": query})
		return &openai.StreamResult{
			ToolCalls: []domain.ToolCall{{
				ID:        "call-1",
				Name:      "search_knowledge_base",
				Arguments: args,
			}},
		}, nil
	}

	return streamText("Hello from the test model.", onDelta)
}

func streamText(text string, onDelta func(string) error) (*openai.StreamResult, error) {
	if onDelta != nil {
		mid := len(text) / 2
		for _, chunk := range []string{text[:mid], text[mid:]} {
			if chunk == "" {
				continue
			}
			if err := onDelta(chunk); err != nil {
				return nil, err
			}
		}
	}
	return &openai.StreamResult{Content: text}, nil
}
