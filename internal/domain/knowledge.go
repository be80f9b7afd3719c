package domain

import "time"

// DefaultSource is used for documents ingested without an explicit source tag.
const DefaultSource = "manual"

// KnowledgeDocument represents a document in the knowledge base. The
// embedding is computed at write time; content is immutable once stored,
// only metadata may be edited afterwards. The source tag determines tier
// visibility and is never empty.
type KnowledgeDocument struct {
	ID        string
	Title     string
	Content   string
	Source    string
	Metadata  map[string]any
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewKnowledgeDocument creates a new KnowledgeDocument instance
func NewKnowledgeDocument(id, title, content, source string, metadata map[string]any, now time.Time) *KnowledgeDocument {
	if source == "" {
		source = DefaultSource
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &KnowledgeDocument{
		ID:        id,
		Title:     title,
		Content:   content,
		Source:    source,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidateKnowledgeDocument validates a KnowledgeDocument instance
func ValidateKnowledgeDocument(d *KnowledgeDocument) error {
	if d == nil {
		return NewDomainError(ErrCodeValidation, "knowledge document cannot be nil")
	}
	if d.ID == "" {
		return NewDomainError(ErrCodeValidation, "knowledge document ID is required")
	}
	if d.Title == "" {
		return NewDomainError(ErrCodeValidation, "knowledge document Title is required")
	}
	if d.Content == "" {
		return NewDomainError(ErrCodeValidation, "knowledge document Content is required")
	}
	if d.Source == "" {
		return ErrEmptySource
	}
	return nil
}
