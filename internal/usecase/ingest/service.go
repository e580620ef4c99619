// Package ingest runs the source ingestion pipeline: extraction, chunking,
// batched embedding, summarization, bulk persistence, and the final status
// transition.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scholarlabs/citedex/internal/chunker"
	"github.com/scholarlabs/citedex/internal/domain"
	"github.com/scholarlabs/citedex/internal/extract"
	"github.com/scholarlabs/citedex/internal/metrics"
	"github.com/scholarlabs/citedex/internal/retry"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultEmbedBatchSize = 50
	DefaultTokenBudget    = chunker.DefaultTokenBudget
)

// Config holds the immutable pipeline settings, fixed at construction.
type Config struct {
	TokenBudget    int
	EmbedBatchSize int
	// BatchPause separates consecutive embedding batches to respect provider
	// rate limits. Zero for offline providers.
	BatchPause time.Duration
	Retry      retry.Policy
}

func (c Config) withDefaults() Config {
	if c.TokenBudget <= 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if len(c.Retry.Retryable) == 0 {
		c.Retry = retry.DefaultPolicy(
			domain.KindEmbeddingQuotaExceeded,
			domain.KindEmbeddingUnavailable,
			domain.KindPersistenceBatchFailed,
		)
	}
	return c
}

// Result is the ingestion outcome returned to callers.
type Result struct {
	SourceID         string          `json:"sourceId"`
	Status           domain.Status   `json:"status"`
	Summary          *domain.Summary `json:"summary,omitempty"`
	ChunkCount       int             `json:"chunkCount,omitempty"`
	TotalTokens      int             `json:"totalTokens,omitempty"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
	Error            string          `json:"error,omitempty"`
}

// Service orchestrates one ingestion run per call. Runs for distinct sources
// share no mutable state and are safe to execute concurrently.
type Service struct {
	sources   SourceRepo
	chunks    ChunkRepo
	uploads   UploadStore
	embedder  domain.BatchEmbedder
	completer domain.Completer
	cfg       Config
	logger    *zap.Logger
	now       func() int64
}

// New creates an ingestion service.
func New(
	sources SourceRepo,
	chunks ChunkRepo,
	uploads UploadStore,
	embedder domain.BatchEmbedder,
	completer domain.Completer,
	cfg Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		sources:   sources,
		chunks:    chunks,
		uploads:   uploads,
		embedder:  embedder,
		completer: completer,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       func() int64 { return time.Now().Unix() },
	}
}

// Ingest runs the pipeline for one source. The source moves
// UPLOADED/READY/FAILED -> PROCESSING -> READY or FAILED; it is never left in
// PROCESSING after this call returns. Re-ingestion replaces the chunk set
// wholesale.
func (s *Service) Ingest(ctx context.Context, sourceID string) (Result, error) {
	start := time.Now()
	log := s.logger.With(zap.String("source_id", sourceID))

	src, err := s.sources.Get(ctx, sourceID)
	if err != nil {
		return Result{}, fmt.Errorf("get source: %w", err)
	}

	src.MarkProcessing(s.now())
	if err := s.sources.Save(ctx, &src); err != nil {
		return Result{}, fmt.Errorf("mark processing: %w", err)
	}

	// fail flips the source to FAILED with a captured message, unless the
	// run was cancelled, in which case no further writes may occur.
	fail := func(kind domain.ErrorKind, cause error) (Result, error) {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("ingestion cancelled: %w", ctx.Err())
		}
		msg := fmt.Sprintf("%s: %v", kind, cause)
		src.MarkFailed(msg, s.now())
		if serr := s.sources.Save(ctx, &src); serr != nil {
			log.Error("failed to persist FAILED status", zap.Error(serr))
		}
		metrics.IngestionsTotal.WithLabelValues("failed").Inc()
		log.Warn("ingestion failed", zap.String("kind", string(kind)), zap.Error(cause))
		return Result{
			SourceID:         sourceID,
			Status:           domain.StatusFailed,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			Error:            msg,
		}, nil
	}

	payload, err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) (domain.UploadPayload, error) {
		p, gerr := s.uploads.Get(ctx, sourceID)
		if gerr != nil && !errors.Is(gerr, domain.ErrUploadNotFound) {
			// A store failure is an infrastructure fault, not a missing
			// payload the caller could re-upload.
			return domain.UploadPayload{}, domain.NewPipelineError(domain.KindPersistenceBatchFailed,
				fmt.Errorf("fetch upload: %w", gerr))
		}
		return p, gerr
	})
	if err != nil {
		if errors.Is(err, domain.ErrUploadNotFound) {
			return fail(domain.KindMissingUpload, err)
		}
		return fail(domain.KindPersistenceBatchFailed, err)
	}

	text, err := extract.Text(payload)
	if err != nil {
		return fail(domain.KindExtractionFailed, err)
	}

	pieces := chunker.Chunk(text, s.cfg.TokenBudget)
	if len(pieces) == 0 {
		return fail(domain.KindExtractionFailed, fmt.Errorf("extraction produced no chunks"))
	}

	vectors, modelID, err := s.embedAll(ctx, pieces)
	if err != nil {
		kind, ok := domain.KindOf(err)
		if !ok {
			kind = domain.KindEmbeddingUnavailable
		}
		return fail(kind, err)
	}

	summary := s.summarize(ctx, src.Title(), text)

	chunks, totalTokens, err := s.buildChunks(sourceID, src.ProjectID(), pieces, vectors)
	if err != nil {
		return fail(domain.KindPersistenceBatchFailed, err)
	}

	persist := func(ctx context.Context) error {
		return s.chunks.ReplaceForSource(ctx, src.ProjectID(), sourceID, chunks)
	}
	if err := retry.Run(ctx, s.cfg.Retry, persist); err != nil {
		return fail(domain.KindPersistenceBatchFailed, err)
	}

	src.MarkReady(len(chunks), totalTokens, summary, modelID, s.now())
	if err := s.sources.Save(ctx, &src); err != nil {
		return fail(domain.KindPersistenceBatchFailed, fmt.Errorf("mark ready: %w", err))
	}

	// The payload is consumed; deletion failure only leaves a TTL-bound key.
	if err := s.uploads.Delete(ctx, sourceID); err != nil {
		log.Warn("failed to delete consumed upload", zap.Error(err))
	}

	elapsed := time.Since(start)
	metrics.IngestionsTotal.WithLabelValues("ready").Inc()
	metrics.IngestionDuration.Observe(elapsed.Seconds())
	metrics.IngestionChunks.Observe(float64(len(chunks)))
	log.Info("ingestion complete",
		zap.Int("chunks", len(chunks)),
		zap.Int("total_tokens", totalTokens),
		zap.Duration("elapsed", elapsed),
	)

	return Result{
		SourceID:         sourceID,
		Status:           domain.StatusReady,
		Summary:          &summary,
		ChunkCount:       len(chunks),
		TotalTokens:      totalTokens,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}, nil
}

// embedAll runs sequential embedding batches through the retry policy and
// returns one vector per piece in input order. A count mismatch in any batch
// aborts before anything is persisted.
func (s *Service) embedAll(ctx context.Context, pieces []chunker.Piece) ([][]float32, string, error) {
	vectors := make([][]float32, 0, len(pieces))
	modelID := ""

	for offset := 0; offset < len(pieces); offset += s.cfg.EmbedBatchSize {
		end := min(offset+s.cfg.EmbedBatchSize, len(pieces))

		texts := make([]string, 0, end-offset)
		for _, p := range pieces[offset:end] {
			texts = append(texts, p.Text)
		}

		if offset > 0 && s.cfg.BatchPause > 0 {
			select {
			case <-time.After(s.cfg.BatchPause):
			case <-ctx.Done():
				return nil, "", fmt.Errorf("embedding paused batch: %w", ctx.Err())
			}
		}

		result, err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) (domain.BatchEmbeddingResult, error) {
			return s.embedder.EmbedBatch(ctx, texts)
		})
		if err != nil {
			return nil, "", fmt.Errorf("embed batch at offset %d: %w", offset, err)
		}

		if len(result.Embeddings) != len(texts) {
			return nil, "", domain.NewPipelineError(domain.KindEmbeddingCountMismatch,
				fmt.Errorf("got %d vectors for %d texts at offset %d",
					len(result.Embeddings), len(texts), offset))
		}

		domain.UsageFromContext(ctx).AddTokens(result.PromptTokens, result.TotalTokens)
		vectors = append(vectors, result.Embeddings...)
		modelID = result.ModelID
	}

	return vectors, modelID, nil
}

func (s *Service) buildChunks(
	sourceID, projectID string, pieces []chunker.Piece, vectors [][]float32,
) ([]domain.SourceChunk, int, error) {
	chunks := make([]domain.SourceChunk, 0, len(pieces))
	totalTokens := 0

	for i, p := range pieces {
		chunk, err := domain.NewSourceChunk(
			uuid.NewString(), sourceID, projectID, i,
			p.Text, p.ApproxTokens, vectors[i], p.Heading, p.PageStart, p.PageEnd,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("build chunk %d: %w", i, err)
		}
		chunks = append(chunks, chunk)
		totalTokens += p.ApproxTokens
	}

	return chunks, totalTokens, nil
}
