package retrieve

import (
	"context"

	"github.com/scholarlabs/citedex/internal/domain"
)

// ChunkRepo lists the persisted chunks of a project.
type ChunkRepo interface {
	ListByProject(ctx context.Context, projectID string) ([]domain.SourceChunk, error)
}

// SourceRepo resolves source metadata for scoring.
type SourceRepo interface {
	GetMany(ctx context.Context, ids []string) (map[string]domain.Source, error)
}

// QueryEmbedder vectorizes the query text.
type QueryEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}
