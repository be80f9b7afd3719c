package service

import (
	"context"
	"log"
	"math"

	"github.com/finclaw/agentd/internal/domain"
	"github.com/finclaw/agentd/internal/telemetry"
)

const (
	// DefaultSearchLimit is the number of results returned when the caller
	// does not specify one.
	DefaultSearchLimit = 5
	// DefaultSimilarityThreshold is the minimum cosine similarity for a
	// document to count as relevant.
	DefaultSimilarityThreshold float32 = 0.65
	// searchOverfetch pads the store query so tier filtering does not starve
	// the result set.
	searchOverfetch = 10
)

// SearchCandidate is a raw nearest-neighbor hit from the vector store,
// before tier filtering.
type SearchCandidate struct {
	ID         string
	Title      string
	Content    string
	Source     string
	Similarity float32
}

// SearchResult is a tier-filtered hit returned to callers.
type SearchResult struct {
	Title      string
	Content    string
	Source     string
	Similarity float32
}

// KnowledgeSearchRepositoryInterface defines the repository interface for
// vector search.
type KnowledgeSearchRepositoryInterface interface {
	SearchByEmbedding(ctx context.Context, embedding []float32, threshold float32, count int) ([]*SearchCandidate, error)
}

// QueryEmbedder produces query-mode embeddings. Implementations degrade to a
// zero-vector instead of failing.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) []float32
}

// SearchService performs tier-scoped semantic search over the knowledge base.
type SearchService struct {
	embedder QueryEmbedder
	repo     KnowledgeSearchRepositoryInterface
}

// NewSearchService creates a new SearchService.
func NewSearchService(embedder QueryEmbedder, repo KnowledgeSearchRepositoryInterface) *SearchService {
	return &SearchService{
		embedder: embedder,
		repo:     repo,
	}
}

// Search embeds the query and returns up to limit documents the filter
// allows, ordered by descending similarity. The store is over-fetched by a
// fixed pad so that filtering rarely leaves the caller short. Store failures
// degrade to an empty result set; the agent answers without retrieved
// context rather than erroring out.
func (s *SearchService) Search(ctx context.Context, query string, limit int, threshold float32, filter *domain.SourceFilter) []SearchResult {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	ctx, span := telemetry.StartSpan(ctx, "knowledge.search", telemetry.SpanAttributes{Operation: "search"})
	defer span.End()

	embedding := s.embedder.EmbedQuery(ctx, query)

	candidates, err := s.repo.SearchByEmbedding(ctx, embedding, threshold, limit+searchOverfetch)
	if err != nil {
		log.Printf("knowledge search failed, continuing without context: %v", err)
		span.SetError(err)
		return []SearchResult{}
	}

	results := make([]SearchResult, 0, limit)
	for _, c := range candidates {
		if !filter.Allows(c.Source) {
			continue
		}
		results = append(results, SearchResult{
			Title:      c.Title,
			Content:    c.Content,
			Source:     c.Source,
			Similarity: c.Similarity,
		})
		if len(results) == limit {
			break
		}
	}
	return results
}

// RelevancePercent renders a similarity score as a whole percentage for
// display in tool output.
func RelevancePercent(similarity float32) int {
	return int(math.Round(float64(similarity) * 100))
}
