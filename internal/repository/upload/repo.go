// Package upload stores raw upload payloads pending ingestion, keyed by
// source ID. Payloads are consumed and deleted by the ingestion service.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scholarlabs/citedex/internal/db"
	"github.com/scholarlabs/citedex/internal/domain"
)

// store is the consumer interface for upload payloads (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// payloadDoc is the stored JSON shape of an upload payload.
type payloadDoc struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// Repo implements the pending-upload store.
type Repo struct {
	store store
	ttl   time.Duration
}

// New creates an upload repository. ttl bounds how long an unconsumed
// payload survives before the user must re-upload.
func New(s store, ttl time.Duration) *Repo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Repo{store: s, ttl: ttl}
}

func uploadKey(sourceID string) string {
	return domain.KeyPrefix + "upload:" + sourceID
}

// Put stores a pending payload for a source.
func (r *Repo) Put(ctx context.Context, sourceID string, payload domain.UploadPayload) error {
	data, err := json.Marshal(payloadDoc{Kind: string(payload.Kind), Content: payload.Content})
	if err != nil {
		return fmt.Errorf("marshal upload %s: %w", sourceID, err)
	}
	if err := r.store.SetWithTTL(ctx, uploadKey(sourceID), data, r.ttl); err != nil {
		return fmt.Errorf("store upload %s: %w", sourceID, err)
	}
	return nil
}

// Get returns the pending payload for a source, or domain.ErrUploadNotFound.
func (r *Repo) Get(ctx context.Context, sourceID string) (domain.UploadPayload, error) {
	raw, err := r.store.Get(ctx, uploadKey(sourceID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.UploadPayload{}, domain.ErrUploadNotFound
		}
		return domain.UploadPayload{}, fmt.Errorf("fetch upload %s: %w", sourceID, err)
	}
	var doc payloadDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.UploadPayload{}, fmt.Errorf("unmarshal upload %s: %w", sourceID, err)
	}
	return domain.UploadPayload{Kind: domain.SourceKind(doc.Kind), Content: doc.Content}, nil
}

// Delete removes a consumed payload.
func (r *Repo) Delete(ctx context.Context, sourceID string) error {
	if err := r.store.Del(ctx, uploadKey(sourceID)); err != nil {
		return fmt.Errorf("delete upload %s: %w", sourceID, err)
	}
	return nil
}
