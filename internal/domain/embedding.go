package domain

import (
	"context"
	"time"
)

// BatchEmbedder vectorizes multiple texts in a single provider call.
// Implementations must return exactly one vector per input text; callers
// treat any count mismatch as a fatal KindEmbeddingCountMismatch error.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BatchEmbeddingResult carries the vectors and token usage for one batch.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	ModelID      string
	Latency      time.Duration
	PromptTokens int
	TotalTokens  int
}
