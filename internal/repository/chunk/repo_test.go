package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/scholarlabs/citedex/internal/db"
	"github.com/scholarlabs/citedex/internal/domain"
)

// fakeStore is an in-memory store recording batch sizes.
type fakeStore struct {
	data        map[string][]byte
	setBatches  []int
	delBatches  []int
	failSetFrom int // fail JSONSetMulti calls starting at this 1-based call count, 0 = never
	setCalls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string][]byte{}}
}

func (f *fakeStore) JSONSetMulti(_ context.Context, items []db.JSONSetItem) error {
	f.setCalls++
	if f.failSetFrom > 0 && f.setCalls >= f.failSetFrom {
		return errors.New("write refused")
	}
	f.setBatches = append(f.setBatches, len(items))
	for _, it := range items {
		f.data[it.Key] = it.Data
	}
	return nil
}

func (f *fakeStore) JSONGetMulti(_ context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = f.data[k]
	}
	return out, nil
}

func (f *fakeStore) DelMulti(_ context.Context, keys []string) error {
	f.delBatches = append(f.delBatches, len(keys))
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) Scan(_ context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func makeChunks(t *testing.T, projectID, sourceID string, n int) []domain.SourceChunk {
	t.Helper()
	chunks := make([]domain.SourceChunk, n)
	for i := 0; i < n; i++ {
		c, err := domain.NewSourceChunk(
			fmt.Sprintf("c-%d", i), sourceID, projectID, i,
			fmt.Sprintf("chunk text %d", i), 100, []float32{0.1, 0.2}, "", 0, 0,
		)
		if err != nil {
			t.Fatalf("NewSourceChunk: %v", err)
		}
		chunks[i] = c
	}
	return chunks
}

func TestReplaceForSource_SplitsBatches(t *testing.T) {
	fs := newFakeStore()
	repo := New(fs, 4)

	chunks := makeChunks(t, "p1", "s1", 10)
	if err := repo.ReplaceForSource(context.Background(), "p1", "s1", chunks); err != nil {
		t.Fatalf("ReplaceForSource: %v", err)
	}

	want := []int{4, 4, 2}
	if len(fs.setBatches) != len(want) {
		t.Fatalf("batches = %v, want %v", fs.setBatches, want)
	}
	for i := range want {
		if fs.setBatches[i] != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, fs.setBatches[i], want[i])
		}
	}
	if len(fs.data) != 10 {
		t.Errorf("persisted %d chunks, want 10", len(fs.data))
	}
}

func TestReplaceForSource_Idempotent(t *testing.T) {
	fs := newFakeStore()
	repo := New(fs, 400)
	ctx := context.Background()

	if err := repo.ReplaceForSource(ctx, "p1", "s1", makeChunks(t, "p1", "s1", 7)); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if err := repo.ReplaceForSource(ctx, "p1", "s1", makeChunks(t, "p1", "s1", 5)); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	got, err := repo.ListByProject(ctx, "p1")
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("chunk count after re-ingestion = %d, want 5", len(got))
	}
	seen := map[int]bool{}
	for _, c := range got {
		if seen[c.Order()] {
			t.Errorf("duplicate order %d survived replacement", c.Order())
		}
		seen[c.Order()] = true
	}
}

func TestReplaceForSource_BatchFailureKind(t *testing.T) {
	fs := newFakeStore()
	fs.failSetFrom = 1
	repo := New(fs, 400)

	err := repo.ReplaceForSource(context.Background(), "p1", "s1", makeChunks(t, "p1", "s1", 3))
	if err == nil {
		t.Fatal("expected error")
	}
	if kind, ok := domain.KindOf(err); !ok || kind != domain.KindPersistenceBatchFailed {
		t.Errorf("kind = %q, want persistence-batch-failed", kind)
	}
}

func TestReplaceForSource_DoesNotTouchOtherSources(t *testing.T) {
	fs := newFakeStore()
	repo := New(fs, 400)
	ctx := context.Background()

	if err := repo.ReplaceForSource(ctx, "p1", "s1", makeChunks(t, "p1", "s1", 3)); err != nil {
		t.Fatal(err)
	}
	if err := repo.ReplaceForSource(ctx, "p1", "s2", makeChunks(t, "p1", "s2", 2)); err != nil {
		t.Fatal(err)
	}

	n, err := repo.CountBySource(ctx, "p1", "s1")
	if err != nil || n != 3 {
		t.Errorf("s1 count = %d (%v), want 3", n, err)
	}
}

func TestListByProject_Ordering(t *testing.T) {
	fs := newFakeStore()
	repo := New(fs, 400)
	ctx := context.Background()

	if err := repo.ReplaceForSource(ctx, "p1", "s-b", makeChunks(t, "p1", "s-b", 2)); err != nil {
		t.Fatal(err)
	}
	if err := repo.ReplaceForSource(ctx, "p1", "s-a", makeChunks(t, "p1", "s-a", 2)); err != nil {
		t.Fatal(err)
	}

	got, err := repo.ListByProject(ctx, "p1")
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d chunks", len(got))
	}
	if got[0].SourceID() != "s-a" || got[0].Order() != 0 || got[3].SourceID() != "s-b" {
		t.Error("chunks not ordered by source then order")
	}
}
