// Package db defines the document store contract the pipeline persists
// through. Consumers depend on the narrow sub-interfaces, not the facade.
package db

import (
	"context"
	"time"
)

// DefaultMaxBatchOps is the per-batch operation limit the store enforces on
// pipelined writes. Repositories must split larger write sets.
const DefaultMaxBatchOps = 400

// Store is the database facade combining all sub-interfaces.
type Store interface {
	Pinger
	KVStore
	JSONStore
	Scanner
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// JSONSetItem holds a single key+path+data triple for pipelined JSON.SET.
type JSONSetItem struct {
	Key  string
	Path string
	Data []byte
}

// JSONStore provides JSON document operations. The Multi variants issue one
// pipelined round-trip; callers must keep item counts within the store's
// per-batch operation limit.
type JSONStore interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	JSONSetMulti(ctx context.Context, items []JSONSetItem) error
	JSONGet(ctx context.Context, key string, paths ...string) ([]byte, error)
	JSONGetMulti(ctx context.Context, keys []string) ([][]byte, error)
	Del(ctx context.Context, key string) error
	DelMulti(ctx context.Context, keys []string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Scanner iterates keys matching a glob pattern.
type Scanner interface {
	Scan(ctx context.Context, pattern string) ([]string, error)
}
