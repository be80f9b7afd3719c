package jobs

import (
	"context"
	"log"
)

// Reembedder heals documents stored without an embedding.
type Reembedder interface {
	ReembedMissing(ctx context.Context, batchSize int) (int, error)
}

// ReembedProcessor drives the re-embed pass for documents ingested while the
// embedding provider was degraded.
type ReembedProcessor struct {
	knowledge Reembedder
	batchSize int
}

// NewReembedProcessor creates a new ReembedProcessor.
func NewReembedProcessor(knowledge Reembedder, batchSize int) *ReembedProcessor {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ReembedProcessor{
		knowledge: knowledge,
		batchSize: batchSize,
	}
}

// ProcessJobs runs one re-embed batch.
func (p *ReembedProcessor) ProcessJobs(ctx context.Context) error {
	healed, err := p.knowledge.ReembedMissing(ctx, p.batchSize)
	if err != nil {
		return err
	}
	if healed > 0 {
		log.Printf("re-embed: healed %d document(s)", healed)
	}
	return nil
}
