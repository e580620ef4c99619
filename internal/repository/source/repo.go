// Package source persists Source aggregates as JSON documents.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/scholarlabs/citedex/internal/db"
	"github.com/scholarlabs/citedex/internal/domain"
)

// store is the consumer interface for source persistence (ISP).
type store interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	JSONGet(ctx context.Context, key string, paths ...string) ([]byte, error)
	JSONGetMulti(ctx context.Context, keys []string) ([][]byte, error)
	Del(ctx context.Context, key string) error
}

// Repo implements source persistence for the ingestion and retrieval services.
type Repo struct {
	store store
}

// New creates a source repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

func sourceKey(id string) string {
	return domain.KeyPrefix + "source:" + id
}

// Save creates or fully replaces a source document.
func (r *Repo) Save(ctx context.Context, src *domain.Source) error {
	data, err := marshalSource(src)
	if err != nil {
		return err
	}
	key := sourceKey(src.ID())
	if err := r.store.JSONSet(ctx, key, "$", data); err != nil {
		return fmt.Errorf("json.set %s: %w", key, err)
	}
	return nil
}

// Get returns a source by ID.
func (r *Repo) Get(ctx context.Context, id string) (domain.Source, error) {
	key := sourceKey(id)
	raw, err := r.store.JSONGet(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.Source{}, domain.ErrSourceNotFound
		}
		return domain.Source{}, fmt.Errorf("json.get %s: %w", key, err)
	}
	return unmarshalSource(raw)
}

// GetMany returns sources by ID in one pipelined round-trip.
// Missing IDs are absent from the result rather than errors.
func (r *Repo) GetMany(ctx context.Context, ids []string) (map[string]domain.Source, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sourceKey(id)
	}

	raws, err := r.store.JSONGetMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("json.get multi: %w", err)
	}

	out := make(map[string]domain.Source, len(ids))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		src, err := unmarshalSource(raw)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", ids[i], err)
		}
		out[src.ID()] = src
	}
	return out, nil
}

// Delete removes a source document.
func (r *Repo) Delete(ctx context.Context, id string) error {
	if err := r.store.Del(ctx, sourceKey(id)); err != nil {
		return fmt.Errorf("del source %s: %w", id, err)
	}
	return nil
}
