package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scholarlabs/citedex/internal/db"
	"github.com/scholarlabs/citedex/internal/domain"
)

type fakeStore struct {
	docs map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string][]byte)}
}

func (f *fakeStore) JSONSet(_ context.Context, key, _ string, data []byte) error {
	f.docs[key] = data
	return nil
}

func (f *fakeStore) JSONGet(_ context.Context, key string, _ ...string) ([]byte, error) {
	raw, ok := f.docs[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return raw, nil
}

func (f *fakeStore) JSONGetMulti(_ context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, key := range keys {
		out[i] = f.docs[key] // nil for missing keys
	}
	return out, nil
}

func (f *fakeStore) Del(_ context.Context, key string) error {
	delete(f.docs, key)
	return nil
}

func testSource(t *testing.T, id string) domain.Source {
	t.Helper()
	src, err := domain.NewSource(id, "user-1", "proj-1", "Paper "+id,
		domain.SourceKindText, 0.7, time.Now().Unix())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	return src
}

func TestSaveGetRoundTrip(t *testing.T) {
	repo := New(newFakeStore())
	src := testSource(t, "src-1")
	src.MarkReady(4, 321, domain.Summary{
		Abstract: "An abstract.",
		Insights: []string{"one", "two"},
	}, "model-x", time.Now().Unix())

	if err := repo.Save(context.Background(), &src); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Get(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status() != domain.StatusReady {
		t.Errorf("status = %q, want READY", got.Status())
	}
	if got.ChunkCount() != 4 || got.TotalTokens() != 321 {
		t.Errorf("counts = %d/%d, want 4/321", got.ChunkCount(), got.TotalTokens())
	}
	if got.Summary().Abstract != "An abstract." || len(got.Summary().Insights) != 2 {
		t.Errorf("summary = %+v", got.Summary())
	}
	if got.EmbeddingModel() != "model-x" {
		t.Errorf("model = %q", got.EmbeddingModel())
	}
	if got.Reliability() != 0.7 {
		t.Errorf("reliability = %v, want 0.7", got.Reliability())
	}
}

func TestGetMissingSource(t *testing.T) {
	repo := New(newFakeStore())

	_, err := repo.Get(context.Background(), "nope")
	if !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("err = %v, want ErrSourceNotFound", err)
	}
}

func TestGetManySkipsMissing(t *testing.T) {
	repo := New(newFakeStore())
	for _, id := range []string{"src-1", "src-2"} {
		src := testSource(t, id)
		if err := repo.Save(context.Background(), &src); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	got, err := repo.GetMany(context.Background(), []string{"src-1", "missing", "src-2"})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sources, want 2", len(got))
	}
	if _, ok := got["missing"]; ok {
		t.Error("missing ID must be absent, not an error")
	}
}

func TestDeleteSource(t *testing.T) {
	repo := New(newFakeStore())
	src := testSource(t, "src-1")
	if err := repo.Save(context.Background(), &src); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := repo.Delete(context.Background(), "src-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(context.Background(), "src-1"); !errors.Is(err, domain.ErrSourceNotFound) {
		t.Errorf("err = %v, want ErrSourceNotFound after delete", err)
	}
}
