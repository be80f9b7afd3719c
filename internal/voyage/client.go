// Package voyage provides the Voyage AI embedding client. Retrieval must
// never block the agent's ability to respond, so the client degrades to a
// zero-vector instead of failing when the provider is unreachable.
package voyage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const (
	// DefaultModel is the Voyage model used for embeddings
	DefaultModel = "voyage-3-lite"
	// DefaultDimensions is the expected embedding dimension. It must match
	// the store's vector column width.
	DefaultDimensions = 1536

	defaultBaseURL = "https://api.voyageai.com/v1"
)

// InputType selects the provider-side representation. Documents and queries
// are embedded asymmetrically by the provider.
type InputType string

const (
	InputTypeDocument InputType = "document"
	InputTypeQuery    InputType = "query"
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when an embedding has the wrong dimension
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
)

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbedding(ctx context.Context, text string, inputType InputType) ([]float32, error)
}

// RESTAdapter calls the Voyage embeddings endpoint over HTTP.
type RESTAdapter struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

func NewRESTAdapter(apiKey, model string) *RESTAdapter {
	if model == "" {
		model = DefaultModel
	}
	return &RESTAdapter{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
	}
}

type embeddingRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	InputType string   `json:"input_type"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// CreateEmbedding calls the Voyage API to embed a single text.
func (a *RESTAdapter) CreateEmbedding(ctx context.Context, text string, inputType InputType) ([]float32, error) {
	payload, err := json.Marshal(embeddingRequest{
		Model:     a.model,
		Input:     []string{text},
		InputType: string(inputType),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("voyage api error: %d %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return parsed.Data[0].Embedding, nil
}

// Config holds client configuration
type Config struct {
	APIKey     string
	Model      string
	Dimensions int
}

// Client wraps the Voyage API with the degrade-to-available policy.
type Client struct {
	api        EmbeddingAPI
	dimensions int
	hasKey     bool
}

// NewClient creates a Client using defaults for model and dimensions.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a Client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Client{
		api:        NewRESTAdapter(cfg.APIKey, cfg.Model),
		dimensions: dimensions,
		hasKey:     cfg.APIKey != "",
	}
}

// Dimensions returns the embedding dimension D.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// EmbedDocument embeds text for storage, using the provider's document
// representation.
func (c *Client) EmbedDocument(ctx context.Context, text string) []float32 {
	return c.Embed(ctx, text, InputTypeDocument)
}

// EmbedQuery embeds a search query, using the provider's query representation.
func (c *Client) EmbedQuery(ctx context.Context, text string) []float32 {
	return c.Embed(ctx, text, InputTypeQuery)
}

// Embed generates an embedding for the given text. On any provider failure
// (missing key, transport error, non-success status) it returns a zero-vector
// of dimension D rather than an error, so a blind search degrades to "no
// matches" instead of aborting the conversation. The degraded state is logged
// distinctly so operators can tell it apart from an empty result set.
func (c *Client) Embed(ctx context.Context, text string, inputType InputType) []float32 {
	if !c.hasKey {
		log.Printf("embeddings: degraded (no api key configured), returning zero-vector")
		return make([]float32, c.dimensions)
	}
	if text == "" {
		return make([]float32, c.dimensions)
	}

	embedding, err := c.api.CreateEmbedding(ctx, text, inputType)
	if err != nil {
		log.Printf("embeddings: degraded (provider error): %v", err)
		return make([]float32, c.dimensions)
	}

	if len(embedding) != c.dimensions {
		log.Printf("embeddings: degraded (%v: got %d, want %d)", ErrWrongDimensions, len(embedding), c.dimensions)
		return make([]float32, c.dimensions)
	}

	return embedding
}
