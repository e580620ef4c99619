// Package chunk persists SourceChunk sets under the store's per-batch write
// limit. Chunk sets are owned by their source: replacement is wholesale,
// never a partial patch.
package chunk

import (
	"context"
	"fmt"
	"sort"

	"github.com/scholarlabs/citedex/internal/db"
	"github.com/scholarlabs/citedex/internal/domain"
)

// store is the consumer interface for chunk persistence (ISP).
type store interface {
	JSONSetMulti(ctx context.Context, items []db.JSONSetItem) error
	JSONGetMulti(ctx context.Context, keys []string) ([][]byte, error)
	DelMulti(ctx context.Context, keys []string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo implements chunk persistence for the ingestion and retrieval services.
type Repo struct {
	store       store
	maxBatchOps int
}

// New creates a chunk repository. maxBatchOps caps operations per pipelined
// batch; non-positive values fall back to the store default.
func New(s store, maxBatchOps int) *Repo {
	if maxBatchOps <= 0 {
		maxBatchOps = db.DefaultMaxBatchOps
	}
	return &Repo{store: s, maxBatchOps: maxBatchOps}
}

func chunkKey(projectID, sourceID string, order int) string {
	return fmt.Sprintf("%schunk:%s:%s:%06d", domain.KeyPrefix, projectID, sourceID, order)
}

func sourcePattern(projectID, sourceID string) string {
	return domain.KeyPrefix + "chunk:" + projectID + ":" + sourceID + ":*"
}

func projectPattern(projectID string) string {
	return domain.KeyPrefix + "chunk:" + projectID + ":*"
}

// ReplaceForSource deletes the source's previous chunk set and writes the new
// one, both in bounded batches. Old chunks are removed only once the caller
// holds a fully regenerated set, so a failure here never mixes old and new
// chunks from different attempts. Batch failures carry
// KindPersistenceBatchFailed so the shared retry policy can re-drive them.
func (r *Repo) ReplaceForSource(ctx context.Context, projectID, sourceID string, chunks []domain.SourceChunk) error {
	if _, err := r.DeleteBySource(ctx, projectID, sourceID); err != nil {
		return err
	}

	items := make([]db.JSONSetItem, len(chunks))
	for i := range chunks {
		data, err := marshalChunk(&chunks[i])
		if err != nil {
			return err
		}
		items[i] = db.JSONSetItem{
			Key:  chunkKey(projectID, sourceID, chunks[i].Order()),
			Path: "$",
			Data: data,
		}
	}

	for start := 0; start < len(items); start += r.maxBatchOps {
		end := min(start+r.maxBatchOps, len(items))
		if err := r.store.JSONSetMulti(ctx, items[start:end]); err != nil {
			return domain.NewPipelineError(domain.KindPersistenceBatchFailed,
				fmt.Errorf("write chunk batch %d-%d for source %s: %w", start, end-1, sourceID, err))
		}
	}
	return nil
}

// DeleteBySource removes all chunks of a source and returns how many keys
// were deleted.
func (r *Repo) DeleteBySource(ctx context.Context, projectID, sourceID string) (int, error) {
	keys, err := r.store.Scan(ctx, sourcePattern(projectID, sourceID))
	if err != nil {
		return 0, domain.NewPipelineError(domain.KindPersistenceBatchFailed,
			fmt.Errorf("scan chunks for source %s: %w", sourceID, err))
	}

	for start := 0; start < len(keys); start += r.maxBatchOps {
		end := min(start+r.maxBatchOps, len(keys))
		if err := r.store.DelMulti(ctx, keys[start:end]); err != nil {
			return 0, domain.NewPipelineError(domain.KindPersistenceBatchFailed,
				fmt.Errorf("delete chunk batch for source %s: %w", sourceID, err))
		}
	}
	return len(keys), nil
}

// ListByProject returns every chunk in a project, ordered by source ID then
// chunk order for stable downstream ranking.
func (r *Repo) ListByProject(ctx context.Context, projectID string) ([]domain.SourceChunk, error) {
	keys, err := r.store.Scan(ctx, projectPattern(projectID))
	if err != nil {
		return nil, fmt.Errorf("scan project %s chunks: %w", projectID, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	var chunks []domain.SourceChunk
	for start := 0; start < len(keys); start += r.maxBatchOps {
		end := min(start+r.maxBatchOps, len(keys))
		raws, err := r.store.JSONGetMulti(ctx, keys[start:end])
		if err != nil {
			return nil, fmt.Errorf("fetch project %s chunks: %w", projectID, err)
		}
		for i, raw := range raws {
			if raw == nil {
				continue
			}
			c, err := unmarshalChunk(raw)
			if err != nil {
				return nil, fmt.Errorf("chunk %s: %w", keys[start+i], err)
			}
			chunks = append(chunks, c)
		}
	}

	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].SourceID() != chunks[j].SourceID() {
			return chunks[i].SourceID() < chunks[j].SourceID()
		}
		return chunks[i].Order() < chunks[j].Order()
	})
	return chunks, nil
}

// CountBySource returns the persisted chunk count for a source.
func (r *Repo) CountBySource(ctx context.Context, projectID, sourceID string) (int, error) {
	keys, err := r.store.Scan(ctx, sourcePattern(projectID, sourceID))
	if err != nil {
		return 0, fmt.Errorf("scan chunks for source %s: %w", sourceID, err)
	}
	return len(keys), nil
}
