package repository

import (
	"context"
	"errors"
	"time"

	"github.com/finclaw/agentd/internal/domain"
	"github.com/finclaw/agentd/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type KnowledgeRepository struct {
	db dbtx
}

func NewKnowledgeRepository(pool *pgxpool.Pool) *KnowledgeRepository {
	return &KnowledgeRepository{db: pool}
}

func NewKnowledgeRepositoryWithTx(tx pgx.Tx) *KnowledgeRepository {
	return &KnowledgeRepository{db: tx}
}

// Create inserts a document. A nil embedding is stored as NULL (degraded
// ingestion); the re-embed worker will pick it up later.
func (r *KnowledgeRepository) Create(ctx context.Context, d *domain.KnowledgeDocument) error {
	var vec any
	if len(d.Embedding) > 0 {
		vec = pgvector.NewVector(d.Embedding)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO agent_knowledge (id, title, content, source, metadata, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.Title, d.Content, d.Source, d.Metadata, vec, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (r *KnowledgeRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error) {
	var d domain.KnowledgeDocument
	err := r.db.QueryRow(ctx,
		`SELECT id, title, content, source, metadata, created_at, updated_at
		 FROM agent_knowledge WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.Title, &d.Content, &d.Source, &d.Metadata, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKnowledgeNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *KnowledgeRepository) List(ctx context.Context, limit int) ([]*domain.KnowledgeDocument, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, title, content, source, metadata, created_at, updated_at
		 FROM agent_knowledge ORDER BY updated_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKnowledgeRows(rows)
}

// UpdateMetadata edits a stored document's metadata map. Title, content, and
// source are immutable after ingestion.
func (r *KnowledgeRepository) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE agent_knowledge SET metadata = $1, updated_at = $2 WHERE id = $3`,
		metadata, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeNotFound
	}
	return nil
}

func (r *KnowledgeRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE agent_knowledge SET embedding = $1, updated_at = $2 WHERE id = $3`,
		pgvector.NewVector(embedding), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeNotFound
	}
	return nil
}

// ListMissingEmbedding returns documents ingested while the embedding
// provider was degraded.
func (r *KnowledgeRepository) ListMissingEmbedding(ctx context.Context, limit int) ([]*domain.KnowledgeDocument, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, title, content, source, metadata, created_at, updated_at
		 FROM agent_knowledge WHERE embedding IS NULL ORDER BY created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKnowledgeRows(rows)
}

// SearchByEmbedding performs nearest-neighbor search with cosine similarity
// normalized to [0,1]. Ordering is the store's native similarity ranking,
// descending; ties keep the store's return order.
func (r *KnowledgeRepository) SearchByEmbedding(ctx context.Context, embedding []float32, threshold float32, count int) ([]*service.SearchCandidate, error) {
	if count <= 0 {
		count = 20
	}

	vec := pgvector.NewVector(embedding)

	rows, err := r.db.Query(ctx,
		`SELECT id, title, content, source, 1 - (embedding <=> $1) AS similarity
		 FROM agent_knowledge
		 WHERE embedding IS NOT NULL AND 1 - (embedding <=> $1) >= $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vec, threshold, count,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*service.SearchCandidate, 0)
	for rows.Next() {
		var c service.SearchCandidate
		if err := rows.Scan(&c.ID, &c.Title, &c.Content, &c.Source, &c.Similarity); err != nil {
			return nil, err
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}

func scanKnowledgeRows(rows pgx.Rows) ([]*domain.KnowledgeDocument, error) {
	var results []*domain.KnowledgeDocument
	for rows.Next() {
		var d domain.KnowledgeDocument
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.Source, &d.Metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, &d)
	}
	return results, rows.Err()
}
