package service

import (
	"context"
	"fmt"
	"time"

	"github.com/finclaw/agentd/internal/domain"
	"github.com/google/uuid"
)

// KnowledgeRepositoryInterface defines the repository interface for knowledge
// persistence.
type KnowledgeRepositoryInterface interface {
	Create(ctx context.Context, doc *domain.KnowledgeDocument) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error)
	List(ctx context.Context, limit int) ([]*domain.KnowledgeDocument, error)
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
	ListMissingEmbedding(ctx context.Context, limit int) ([]*domain.KnowledgeDocument, error)
}

// DocumentEmbedder produces document-mode embeddings. Implementations degrade
// to a zero-vector instead of failing.
type DocumentEmbedder interface {
	EmbedDocument(ctx context.Context, text string) []float32
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// KnowledgeService handles ingestion and curation of knowledge documents.
type KnowledgeService struct {
	repo     KnowledgeRepositoryInterface
	embedder DocumentEmbedder
	uuidGen  UUIDGenerator
}

// NewKnowledgeService creates a new KnowledgeService.
func NewKnowledgeService(repo KnowledgeRepositoryInterface, embedder DocumentEmbedder, uuidGen UUIDGenerator) *KnowledgeService {
	return &KnowledgeService{
		repo:     repo,
		embedder: embedder,
		uuidGen:  uuidGen,
	}
}

// CreateKnowledgeInput holds the fields for ingesting a document.
type CreateKnowledgeInput struct {
	Title    string
	Content  string
	Source   string
	Metadata map[string]any
}

// embeddingText is what gets embedded for a document: title and content
// joined so the title contributes to retrieval.
func embeddingText(title, content string) string {
	return title + "\n\n" + content
}

// Create validates and ingests a document, embedding it in document mode.
// When the embedding provider is degraded the document is stored without an
// embedding and healed later by the re-embed worker; ingestion never fails
// because the provider is down.
func (s *KnowledgeService) Create(ctx context.Context, input CreateKnowledgeInput) (*domain.KnowledgeDocument, error) {
	doc := domain.NewKnowledgeDocument(s.uuidGen.NewString(), input.Title, input.Content, input.Source, input.Metadata, nowUTC())
	if err := domain.ValidateKnowledgeDocument(doc); err != nil {
		return nil, err
	}

	embedding := s.embedder.EmbedDocument(ctx, embeddingText(doc.Title, doc.Content))
	if !isZeroVector(embedding) {
		doc.Embedding = embedding
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create knowledge document: %w", err)
	}
	return doc, nil
}

// GetByID retrieves a document by id.
func (s *KnowledgeService) GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error) {
	if id == "" {
		return nil, domain.ErrKnowledgeNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// List returns the most recently updated documents.
func (s *KnowledgeService) List(ctx context.Context, limit int) ([]*domain.KnowledgeDocument, error) {
	return s.repo.List(ctx, limit)
}

// UpdateMetadata edits a document's metadata. Title, content, and source are
// immutable after ingestion so stored embeddings stay consistent with the
// text they were computed from.
func (s *KnowledgeService) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	if id == "" {
		return domain.ErrKnowledgeNotFound
	}
	return s.repo.UpdateMetadata(ctx, id, metadata)
}

// ReembedMissing embeds up to batchSize documents that were ingested while
// the provider was degraded. Returns the number of documents healed.
// Documents whose embedding still comes back as a zero-vector are left for
// the next run.
func (s *KnowledgeService) ReembedMissing(ctx context.Context, batchSize int) (int, error) {
	docs, err := s.repo.ListMissingEmbedding(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list documents missing embeddings: %w", err)
	}

	healed := 0
	for _, doc := range docs {
		embedding := s.embedder.EmbedDocument(ctx, embeddingText(doc.Title, doc.Content))
		if isZeroVector(embedding) {
			continue
		}
		if err := s.repo.UpdateEmbedding(ctx, doc.ID, embedding); err != nil {
			return healed, fmt.Errorf("failed to update embedding for %s: %w", doc.ID, err)
		}
		healed++
	}
	return healed, nil
}

// isZeroVector reports whether an embedding is the degraded all-zeros value.
func isZeroVector(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// nowUTC returns the current time in UTC. Services stamp timestamps here so
// tests can compare against time.Now without timezone noise.
func nowUTC() time.Time {
	return time.Now().UTC()
}
