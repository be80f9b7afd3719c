package voyage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockEmbeddingAPI is a mock for the Voyage API
type MockEmbeddingAPI struct {
	mock.Mock
}

func (m *MockEmbeddingAPI) CreateEmbedding(ctx context.Context, text string, inputType InputType) ([]float32, error) {
	args := m.Called(ctx, text, inputType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func TestClient_Embed_Success(t *testing.T) {
	mockAPI := new(MockEmbeddingAPI)
	client := &Client{api: mockAPI, dimensions: 1536, hasKey: true}

	ctx := context.Background()
	text := "How do refunds work?"
	expected := make([]float32, 1536)
	for i := range expected {
		expected[i] = float32(i) * 0.001
	}

	mockAPI.On("CreateEmbedding", ctx, text, InputTypeQuery).Return(expected, nil)

	embedding := client.Embed(ctx, text, InputTypeQuery)

	assert.Equal(t, expected, embedding)
	mockAPI.AssertExpectations(t)
}

func TestClient_Embed_NoAPIKey_ZeroVector(t *testing.T) {
	client := NewClientWithConfig(Config{Dimensions: 8})

	embedding := client.Embed(context.Background(), "hello", InputTypeDocument)

	require.Len(t, embedding, 8)
	for _, v := range embedding {
		assert.Zero(t, v)
	}
}

func TestClient_Embed_ProviderError_ZeroVector(t *testing.T) {
	mockAPI := new(MockEmbeddingAPI)
	client := &Client{api: mockAPI, dimensions: 4, hasKey: true}

	ctx := context.Background()
	mockAPI.On("CreateEmbedding", ctx, "text", InputTypeDocument).Return(nil, errors.New("connection refused"))

	embedding := client.Embed(ctx, "text", InputTypeDocument)

	assert.Equal(t, []float32{0, 0, 0, 0}, embedding)
	mockAPI.AssertExpectations(t)
}

func TestClient_Embed_WrongDimensions_ZeroVector(t *testing.T) {
	mockAPI := new(MockEmbeddingAPI)
	client := &Client{api: mockAPI, dimensions: 1536, hasKey: true}

	ctx := context.Background()
	mockAPI.On("CreateEmbedding", ctx, "text", InputTypeQuery).Return(make([]float32, 512), nil)

	embedding := client.Embed(ctx, "text", InputTypeQuery)

	assert.Len(t, embedding, 1536)
	for _, v := range embedding {
		assert.Zero(t, v)
	}
}

func TestRESTAdapter_CreateEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer vk-test", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "voyage-3-lite", req.Model)
		assert.Equal(t, []string{"some document"}, req.Input)
		assert.Equal(t, "document", req.InputType)

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	adapter := NewRESTAdapter("vk-test", "")
	adapter.baseURL = srv.URL

	embedding, err := adapter.CreateEmbedding(context.Background(), "some document", InputTypeDocument)

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, embedding)
}

func TestRESTAdapter_CreateEmbedding_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter := NewRESTAdapter("vk-test", "")
	adapter.baseURL = srv.URL

	_, err := adapter.CreateEmbedding(context.Background(), "text", InputTypeQuery)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "voyage api error: 429")
}
