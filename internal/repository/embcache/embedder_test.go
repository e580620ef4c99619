package embcache

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/scholarlabs/citedex/internal/db"
	"github.com/scholarlabs/citedex/internal/domain"
)

type fakeKV struct {
	data map[string][]byte
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return nil, db.ErrKeyNotFound
}

func (f *fakeKV) Set(_ context.Context, key string, value []byte) error {
	f.data[key] = value
	return nil
}

type countingEmbedder struct {
	calls     int
	lastTexts []string
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	e.calls++
	e.lastTexts = texts
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(len(texts[i])), 1}
	}
	return domain.BatchEmbeddingResult{Embeddings: vecs, ModelID: "m", TotalTokens: len(texts) * 10}, nil
}

func TestEmbedBatch_CachesAndServesHits(t *testing.T) {
	kv := &fakeKV{data: map[string][]byte{}}
	inner := &countingEmbedder{}
	cached := New(inner, kv, "m", nil, zap.NewNop())
	ctx := context.Background()

	first, err := cached.EmbedBatch(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d", inner.calls)
	}

	second, err := cached.EmbedBatch(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if inner.calls != 1 {
		t.Error("full cache hit must not call the inner embedder")
	}
	if second.TotalTokens != 0 {
		t.Errorf("cache hits must report zero tokens, got %d", second.TotalTokens)
	}
	if second.ModelID != "m" {
		t.Errorf("fully cached batch ModelID = %q, want %q", second.ModelID, "m")
	}
	if !reflect.DeepEqual(first.Embeddings, second.Embeddings) {
		t.Error("cached vectors differ from originals")
	}
}

func TestEmbedBatch_ModelChangeBypassesOldEntries(t *testing.T) {
	kv := &fakeKV{data: map[string][]byte{}}
	ctx := context.Background()

	old := &countingEmbedder{}
	if _, err := New(old, kv, "model-a", nil, zap.NewNop()).EmbedBatch(ctx, []string{"alpha"}); err != nil {
		t.Fatal(err)
	}

	fresh := &countingEmbedder{}
	if _, err := New(fresh, kv, "model-b", nil, zap.NewNop()).EmbedBatch(ctx, []string{"alpha"}); err != nil {
		t.Fatal(err)
	}
	if fresh.calls != 1 {
		t.Error("a different model must not be served vectors cached for the old one")
	}
}

func TestEmbedBatch_PartialMiss(t *testing.T) {
	kv := &fakeKV{data: map[string][]byte{}}
	inner := &countingEmbedder{}
	cached := New(inner, kv, "m", nil, zap.NewNop())
	ctx := context.Background()

	if _, err := cached.EmbedBatch(ctx, []string{"alpha"}); err != nil {
		t.Fatal(err)
	}

	res, err := cached.EmbedBatch(ctx, []string{"alpha", "gamma"})
	if err != nil {
		t.Fatal(err)
	}
	if len(inner.lastTexts) != 1 || inner.lastTexts[0] != "gamma" {
		t.Errorf("inner received %v, want only the miss", inner.lastTexts)
	}
	if len(res.Embeddings) != 2 || res.Embeddings[0] == nil || res.Embeddings[1] == nil {
		t.Error("result must stitch cached and fresh vectors in input order")
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.1415}
	got, err := decodeVector(encodeVector(vec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(vec, got) {
		t.Errorf("roundtrip mismatch: %v vs %v", vec, got)
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("truncated payload must fail to decode")
	}
}
