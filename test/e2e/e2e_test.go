//go:build e2e

package e2e

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestE2E_HealthAndAuth covers the open health endpoint and the auth gate on
// every authenticated route.
func TestE2E_HealthAndAuth(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	t.Run("health endpoint is open", func(t *testing.T) {
		resp, err := env.HTTPClient.Get(env.ServerURL + "/agent/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var health struct {
			Status    string `json:"status"`
			Name      string `json:"name"`
			Model     string `json:"model"`
			Timestamp string `json:"timestamp"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, "ok", health.Status)
		assert.Equal(t, "E2E Agent", health.Name)
		assert.Equal(t, "test-model", health.Model)
		assert.NotEmpty(t, health.Timestamp)
	})

	t.Run("missing token returns 401", func(t *testing.T) {
		for _, path := range []string{"/sessions", "/knowledge"} {
			_, status, err := env.Get(path, "")
			require.NoError(t, err)
			assert.Equal(t, http.StatusUnauthorized, status, "GET %s", path)
		}

		_, _, status, err := env.Chat("/agent", "", "", "hello")
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("unknown token returns 401", func(t *testing.T) {
		_, status, err := env.Get("/sessions", "not-a-real-token")
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}

// TestE2E_Conversation runs authenticated turns end to end: streamed answer,
// session creation, persistence, and session reuse.
func TestE2E_Conversation(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	var sessionID string

	t.Run("first turn creates a session and streams the answer", func(t *testing.T) {
		body, sid, status, err := env.Chat("/agent", MemberToken, "", "hello")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Hello from the test model.", body)
		require.NotEmpty(t, sid)
		sessionID = sid
	})

	t.Run("second turn reuses the session", func(t *testing.T) {
		_, sid, status, err := env.Chat("/agent", MemberToken, sessionID, "hello again")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, sessionID, sid)
	})

	t.Run("messages endpoint returns the persisted transcript", func(t *testing.T) {
		resp, status, err := env.Get("/sessions/"+sessionID+"/messages", MemberToken)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)

		var messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &messages))
		require.Len(t, messages, 4)
		assert.Equal(t, "user", messages[0].Role)
		assert.Equal(t, "hello", messages[0].Content)
		assert.Equal(t, "assistant", messages[1].Role)
		assert.Equal(t, "Hello from the test model.", messages[1].Content)
		assert.Equal(t, "user", messages[2].Role)
		assert.Equal(t, "hello again", messages[2].Content)
	})

	t.Run("session list shows the session", func(t *testing.T) {
		resp, status, err := env.Get("/sessions", MemberToken)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)

		var page struct {
			Sessions []struct {
				ID      string `json:"id"`
				Channel string `json:"channel"`
			} `json:"sessions"`
			HasMore bool `json:"has_more"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &page))
		require.Len(t, page.Sessions, 1)
		assert.Equal(t, sessionID, page.Sessions[0].ID)
		assert.Equal(t, "web", page.Sessions[0].Channel)
		assert.False(t, page.HasMore)
	})

	t.Run("foreign session id starts a fresh session", func(t *testing.T) {
		_, sid, status, err := env.Chat("/agent", AdminToken, sessionID, "hello")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)
		assert.NotEmpty(t, sid)
		assert.NotEqual(t, sessionID, sid)
	})

	t.Run("foreign session transcript reads as not found", func(t *testing.T) {
		_, status, err := env.Get("/sessions/"+sessionID+"/messages", AdminToken)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("export without archive storage returns 501", func(t *testing.T) {
		_, status, err := env.Post("/sessions/"+sessionID+"/export", nil, MemberToken)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotImplemented, status)
	})
}

// TestE2E_KnowledgeAndRetrieval exercises curation, tier-scoped retrieval
// through the tool loop, and the admin-only gate.
func TestE2E_KnowledgeAndRetrieval(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	t.Run("non-admin cannot curate", func(t *testing.T) {
		_, status, err := env.Post("/knowledge", map[string]string{
			"title":   "Blocked",
			"content": "should not land",
		}, MemberToken)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, status)
	})

	var internalDocID string

	t.Run("admin creates documents", func(t *testing.T) {
		resp, status, err := env.Post("/knowledge", map[string]string{
			"title":   "Escalation runbook",
			"content": "Internal escalation procedure.",
			"source":  "internal",
		}, AdminToken)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, status)

		var doc struct {
			ID       string `json:"id"`
			Embedded bool   `json:"embedded"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &doc))
		require.NotEmpty(t, doc.ID)
		assert.True(t, doc.Embedded)
		internalDocID = doc.ID

		_, status, err = env.Post("/knowledge", map[string]string{
			"title":   "Refund FAQ",
			"content": "Refunds are processed within five business days.",
			"source":  "faq",
		}, AdminToken)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, status)
	})

	t.Run("admin retrieval sees internal documents", func(t *testing.T) {
		body, _, status, err := env.Chat("/agent", AdminToken, "", "lookup: escalation")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Here is what I found.", body)
	})

	t.Run("public retrieval is scoped to public sources", func(t *testing.T) {
		// The FAQ document is visible, so the tool finds something even
		// though the internal runbook is filtered out.
		body, _, status, err := env.Chat("/agent/public", "", "", "lookup: refunds")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Here is what I found.", body)
	})

	t.Run("assistant message records the tool call", func(t *testing.T) {
		_, sid, status, err := env.Chat("/agent", MemberToken, "", "lookup: refunds")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)
		require.NotEmpty(t, sid)

		resp, status, err := env.Get("/sessions/"+sid+"/messages", MemberToken)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)

		var messages []struct {
			Role      string `json:"role"`
			ToolCalls []struct {
				Name string `json:"name"`
			} `json:"tool_calls"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &messages))
		require.Len(t, messages, 2)
		require.Equal(t, "assistant", messages[1].Role)
		require.Len(t, messages[1].ToolCalls, 1)
		assert.Equal(t, "search_knowledge_base", messages[1].ToolCalls[0].Name)
	})

	t.Run("metadata is editable after ingestion", func(t *testing.T) {
		resp, status, err := env.Put("/knowledge/"+internalDocID+"/metadata", map[string]interface{}{
			"metadata": map[string]string{"owner": "support"},
		}, AdminToken)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)

		var doc struct {
			Metadata map[string]string `json:"metadata"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &doc))
		assert.Equal(t, "support", doc.Metadata["owner"])
	})
}

// TestE2E_PublicRateLimit drives the anonymous surface past its window
// budget and checks the 429 contract.
func TestE2E_PublicRateLimit(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	body := map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "hello"}},
	}

	for i := 0; i < publicRateLimitMax; i++ {
		resp, err := env.RawPost("/agent/public", body, "")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d should be allowed", i+1)
	}

	resp, err := env.RawPost("/agent/public", body, "")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// The authenticated surface has its own limiter and is unaffected.
	_, _, status, err := env.Chat("/agent", MemberToken, "", "hello")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}
