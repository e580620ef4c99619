package ingest

import (
	"context"

	"github.com/scholarlabs/citedex/internal/domain"
)

// SourceRepo defines the storage contract for source documents.
type SourceRepo interface {
	Get(ctx context.Context, id string) (domain.Source, error)
	Save(ctx context.Context, src *domain.Source) error
}

// ChunkRepo defines the storage contract for source chunks.
type ChunkRepo interface {
	ReplaceForSource(ctx context.Context, projectID, sourceID string, chunks []domain.SourceChunk) error
}

// UploadStore holds pending upload payloads awaiting ingestion.
type UploadStore interface {
	Get(ctx context.Context, sourceID string) (domain.UploadPayload, error)
	Delete(ctx context.Context, sourceID string) error
}
