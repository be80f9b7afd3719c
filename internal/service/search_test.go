package service

import (
	"context"
	"errors"
	"testing"

	"github.com/finclaw/agentd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSearchRepository struct {
	mock.Mock
}

func (m *MockSearchRepository) SearchByEmbedding(ctx context.Context, embedding []float32, threshold float32, count int) ([]*SearchCandidate, error) {
	args := m.Called(ctx, embedding, threshold, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SearchCandidate), args.Error(1)
}

type stubEmbedder struct {
	vec []float32
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) []float32 {
	return s.vec
}

func candidate(id, source string, similarity float32) *SearchCandidate {
	return &SearchCandidate{ID: id, Title: "doc " + id, Content: "content " + id, Source: source, Similarity: similarity}
}

func TestSearch_FiltersDisallowedSources(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := &stubEmbedder{vec: []float32{0.1, 0.2}}
	service := NewSearchService(embedder, repo)

	repo.On("SearchByEmbedding", mock.Anything, embedder.vec, DefaultSimilarityThreshold, 5+searchOverfetch).
		Return([]*SearchCandidate{
			candidate("1", "faq", 0.91),
			candidate("2", "internal", 0.88),
			candidate("3", "service", 0.82),
			candidate("4", "admin", 0.79),
		}, nil)

	results := service.Search(context.Background(), "refund policy", 5, 0, domain.ResolveSourceFilter(domain.TierPublic))

	require.Len(t, results, 2)
	assert.Equal(t, "faq", results[0].Source)
	assert.Equal(t, "service", results[1].Source)
	repo.AssertExpectations(t)
}

func TestSearch_TruncatesToLimitAfterFiltering(t *testing.T) {
	repo := new(MockSearchRepository)
	service := NewSearchService(&stubEmbedder{vec: []float32{1}}, repo)

	candidates := make([]*SearchCandidate, 0, 8)
	for i := 0; i < 8; i++ {
		candidates = append(candidates, candidate(string(rune('a'+i)), "faq", float32(0.9)-float32(i)*0.01))
	}
	repo.On("SearchByEmbedding", mock.Anything, mock.Anything, mock.Anything, 2+searchOverfetch).
		Return(candidates, nil)

	results := service.Search(context.Background(), "hours", 2, 0.7, domain.ResolveSourceFilter(domain.TierPublic))

	require.Len(t, results, 2)
	assert.Equal(t, "doc a", results[0].Title)
	assert.Equal(t, "doc b", results[1].Title)
}

func TestSearch_InternalTierSeesEverything(t *testing.T) {
	repo := new(MockSearchRepository)
	service := NewSearchService(&stubEmbedder{vec: []float32{1}}, repo)

	repo.On("SearchByEmbedding", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*SearchCandidate{
			candidate("1", "internal", 0.95),
			candidate("2", "admin", 0.90),
			candidate("3", "faq", 0.85),
		}, nil)

	results := service.Search(context.Background(), "escalation runbook", 5, 0, domain.ResolveSourceFilter(domain.TierInternal))

	require.Len(t, results, 3)
	assert.Equal(t, "internal", results[0].Source)
}

func TestSearch_StoreErrorDegradesToEmpty(t *testing.T) {
	repo := new(MockSearchRepository)
	service := NewSearchService(&stubEmbedder{vec: []float32{1}}, repo)

	repo.On("SearchByEmbedding", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	results := service.Search(context.Background(), "anything", 5, 0, nil)

	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearch_DefaultsAppliedForLimitAndThreshold(t *testing.T) {
	repo := new(MockSearchRepository)
	service := NewSearchService(&stubEmbedder{vec: []float32{1}}, repo)

	repo.On("SearchByEmbedding", mock.Anything, mock.Anything, DefaultSimilarityThreshold, DefaultSearchLimit+searchOverfetch).
		Return([]*SearchCandidate{}, nil)

	results := service.Search(context.Background(), "query", 0, 0, nil)

	assert.Empty(t, results)
	repo.AssertExpectations(t)
}

func TestRelevancePercent(t *testing.T) {
	assert.Equal(t, 87, RelevancePercent(0.874))
	assert.Equal(t, 88, RelevancePercent(0.875))
	assert.Equal(t, 100, RelevancePercent(1))
	assert.Equal(t, 0, RelevancePercent(0))
}
