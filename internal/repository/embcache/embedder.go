// Package embcache is a caching decorator over a batch embedder. Re-ingested
// sources mostly produce the same chunk texts, so vectors are cached by
// content hash and only the misses hit the provider.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/scholarlabs/citedex/internal/db"
	"github.com/scholarlabs/citedex/internal/domain"
)

var cacheKeyPrefix = domain.KeyPrefix + "emb_cache:"

// store is the consumer interface for the embedding cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CachedBatchEmbedder caches embeddings in a key-value store. Keys carry the
// model identity so a provider or model switch never serves vectors embedded
// by the previous model.
type CachedBatchEmbedder struct {
	inner      domain.BatchEmbedder
	store      store
	modelID    string
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator. modelID is the configured embedding model;
// it namespaces the cache keys and is reported on fully cached batches.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner domain.BatchEmbedder,
	s store,
	modelID string,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedBatchEmbedder {
	return &CachedBatchEmbedder{
		inner:      inner,
		store:      s,
		modelID:    modelID,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// EmbedBatch serves cached vectors and forwards only the misses to the inner
// embedder. Token usage reflects the inner call alone; full cache hits report
// zero tokens. Vector count always equals the input text count.
func (c *CachedBatchEmbedder) EmbedBatch(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := c.getFromCache(ctx, c.cacheKey(text)); ok {
			c.incCache("hit")
			vectors[i] = vec
			continue
		}
		c.incCache("miss")
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	result := domain.BatchEmbeddingResult{}
	if len(missTexts) > 0 {
		inner, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("embed cache misses: %w", err)
		}
		if len(inner.Embeddings) != len(missTexts) {
			return domain.BatchEmbeddingResult{}, domain.NewPipelineError(
				domain.KindEmbeddingCountMismatch,
				fmt.Errorf("provider returned %d vectors for %d texts", len(inner.Embeddings), len(missTexts)),
			)
		}
		for j, vec := range inner.Embeddings {
			vectors[missIdx[j]] = vec
			c.putToCache(ctx, c.cacheKey(missTexts[j]), vec)
		}
		result = inner
	}

	result.Embeddings = vectors
	if result.ModelID == "" {
		// Fully cached batch: no inner call happened, so the model identity
		// comes from the decorator's configuration.
		result.ModelID = c.modelID
	}
	return result, nil
}

func (c *CachedBatchEmbedder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedBatchEmbedder) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(c.modelID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (c *CachedBatchEmbedder) getFromCache(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		return nil, false
	}
	vec, err := decodeVector(raw)
	if err != nil {
		c.logger.Warn("embedding cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (c *CachedBatchEmbedder) putToCache(ctx context.Context, key string, vec []float32) {
	if err := c.store.Set(ctx, key, encodeVector(vec)); err != nil {
		// Cache write failure is not an ingestion failure.
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

// encodeVector serializes []float32 as little-endian bytes, 4 per element.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("invalid vector payload length %d", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}
