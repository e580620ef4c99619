package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/scholarlabs/citedex/internal/db"
	"github.com/scholarlabs/citedex/internal/domain"
	"github.com/scholarlabs/citedex/internal/repository/embcache"
	"github.com/scholarlabs/citedex/internal/retry"
)

type fakeSources struct {
	src    domain.Source
	getErr error
	saves  []domain.Status
}

func (f *fakeSources) Get(_ context.Context, id string) (domain.Source, error) {
	if f.getErr != nil {
		return domain.Source{}, f.getErr
	}
	return f.src, nil
}

func (f *fakeSources) Save(_ context.Context, src *domain.Source) error {
	f.src = *src
	f.saves = append(f.saves, src.Status())
	return nil
}

type fakeChunks struct {
	replaceCalls int
	last         []domain.SourceChunk
	err          error
}

func (f *fakeChunks) ReplaceForSource(_ context.Context, projectID, sourceID string, chunks []domain.SourceChunk) error {
	if f.err != nil {
		return f.err
	}
	f.replaceCalls++
	f.last = chunks
	return nil
}

type fakeUploads struct {
	payload  domain.UploadPayload
	missing  bool
	getErr   error
	getCalls int
	deleted  bool
}

func (f *fakeUploads) Get(_ context.Context, sourceID string) (domain.UploadPayload, error) {
	f.getCalls++
	if f.missing {
		return domain.UploadPayload{}, domain.ErrUploadNotFound
	}
	if f.getErr != nil {
		return domain.UploadPayload{}, f.getErr
	}
	return f.payload, nil
}

func (f *fakeUploads) Delete(_ context.Context, sourceID string) error {
	f.deleted = true
	return nil
}

// fakeEmbedder returns queued errors first, then deterministic vectors.
// extraVectors pads each successful batch to simulate a count mismatch.
type fakeEmbedder struct {
	errs         []error
	extraVectors int
	calls        [][]string
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	f.calls = append(f.calls, texts)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return domain.BatchEmbeddingResult{}, err
	}
	vectors := make([][]float32, len(texts)+f.extraVectors)
	for i := range vectors {
		vectors[i] = []float32{float32(i), 1}
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   vectors,
		ModelID:      "fake-model",
		PromptTokens: len(texts),
		TotalTokens:  len(texts),
	}, nil
}

type fakeCompleter struct {
	out string
	err error
}

func (f *fakeCompleter) Complete(_ context.Context, _ domain.CompletionRequest) (string, error) {
	return f.out, f.err
}

func (f *fakeCompleter) Stream(_ context.Context, _ domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	ch := make(chan domain.StreamEvent)
	close(ch)
	return ch, nil
}

func testSource(t *testing.T) domain.Source {
	t.Helper()
	src, err := domain.NewSource("src-1", "user-1", "proj-1", "Test Paper",
		domain.SourceKindText, 0.8, time.Now().Unix())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	return src
}

// threeChunkText builds three paragraphs that each land within a 100-token
// budget as one chunk apiece.
func threeChunkText() string {
	para := strings.TrimSpace(strings.Repeat("evidence ", 55))
	return para + "\n\n" + para + "\n\n" + para
}

func instantPolicy(retryable ...domain.ErrorKind) retry.Policy {
	p := retry.DefaultPolicy(retryable...)
	p.Sleep = func(_ context.Context, _ time.Duration) error { return nil }
	return p
}

func newTestService(sources *fakeSources, chunks *fakeChunks, uploads *fakeUploads,
	embedder *fakeEmbedder, completer *fakeCompleter, cfg Config) *Service {
	return New(sources, chunks, uploads, embedder, completer, cfg, zap.NewNop())
}

func TestIngestThreeChunksReady(t *testing.T) {
	sources := &fakeSources{src: testSource(t)}
	chunks := &fakeChunks{}
	uploads := &fakeUploads{payload: domain.UploadPayload{
		Kind:    domain.SourceKindText,
		Content: threeChunkText(),
	}}
	embedder := &fakeEmbedder{}
	completer := &fakeCompleter{out: `{"abstract":"A study.","insights":["one","two"]}`}

	svc := newTestService(sources, chunks, uploads, embedder, completer, Config{
		TokenBudget: 100,
		Retry:       instantPolicy(domain.KindEmbeddingQuotaExceeded),
	})

	result, err := svc.Ingest(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if result.Status != domain.StatusReady {
		t.Fatalf("status = %q, want READY (error: %s)", result.Status, result.Error)
	}
	if result.ChunkCount != 3 {
		t.Errorf("ChunkCount = %d, want 3", result.ChunkCount)
	}
	if result.Summary == nil || result.Summary.Abstract != "A study." {
		t.Errorf("summary = %+v, want parsed abstract", result.Summary)
	}
	if len(chunks.last) != 3 {
		t.Errorf("persisted %d chunks, want 3", len(chunks.last))
	}
	if sources.src.Status() != domain.StatusReady {
		t.Errorf("stored source status = %q, want READY", sources.src.Status())
	}
	if sources.src.EmbeddingModel() != "fake-model" {
		t.Errorf("embedding model = %q", sources.src.EmbeddingModel())
	}
	if !uploads.deleted {
		t.Error("consumed upload was not deleted")
	}
	// PROCESSING must have been persisted before READY.
	if len(sources.saves) < 2 || sources.saves[0] != domain.StatusProcessing {
		t.Errorf("save sequence = %v, want PROCESSING first", sources.saves)
	}
}

func TestIngestRetriesQuotaErrorOnce(t *testing.T) {
	sources := &fakeSources{src: testSource(t)}
	chunks := &fakeChunks{}
	uploads := &fakeUploads{payload: domain.UploadPayload{
		Kind:    domain.SourceKindText,
		Content: threeChunkText(),
	}}
	embedder := &fakeEmbedder{errs: []error{
		domain.NewPipelineError(domain.KindEmbeddingQuotaExceeded, fmt.Errorf("429")),
	}}
	completer := &fakeCompleter{out: `{"abstract":"A study.","insights":["one"]}`}

	svc := newTestService(sources, chunks, uploads, embedder, completer, Config{
		TokenBudget: 100,
		Retry:       instantPolicy(domain.KindEmbeddingQuotaExceeded),
	})

	result, err := svc.Ingest(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Status != domain.StatusReady {
		t.Fatalf("status = %q, want READY after retry (error: %s)", result.Status, result.Error)
	}
	if len(embedder.calls) != 2 {
		t.Errorf("embedder called %d times, want 2 (original plus one retry)", len(embedder.calls))
	}
}

func TestIngestAuthFailureIsNotRetried(t *testing.T) {
	sources := &fakeSources{src: testSource(t)}
	chunks := &fakeChunks{}
	uploads := &fakeUploads{payload: domain.UploadPayload{
		Kind:    domain.SourceKindText,
		Content: threeChunkText(),
	}}
	embedder := &fakeEmbedder{errs: []error{
		domain.NewPipelineError(domain.KindEmbeddingAuthFailed, fmt.Errorf("401")),
	}}
	completer := &fakeCompleter{out: `{}`}

	svc := newTestService(sources, chunks, uploads, embedder, completer, Config{
		TokenBudget: 100,
		Retry:       instantPolicy(domain.KindEmbeddingQuotaExceeded),
	})

	result, err := svc.Ingest(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want FAILED", result.Status)
	}
	if len(embedder.calls) != 1 {
		t.Errorf("embedder called %d times, want 1", len(embedder.calls))
	}
	if !strings.Contains(result.Error, string(domain.KindEmbeddingAuthFailed)) {
		t.Errorf("error %q does not carry the auth kind", result.Error)
	}
	if chunks.replaceCalls != 0 {
		t.Errorf("chunks persisted on failed embedding: %d calls", chunks.replaceCalls)
	}
}

func TestIngestCountMismatchFailsWithoutWrites(t *testing.T) {
	sources := &fakeSources{src: testSource(t)}
	chunks := &fakeChunks{}
	uploads := &fakeUploads{payload: domain.UploadPayload{
		Kind:    domain.SourceKindText,
		Content: threeChunkText(),
	}}
	embedder := &fakeEmbedder{extraVectors: 1}
	completer := &fakeCompleter{out: `{}`}

	svc := newTestService(sources, chunks, uploads, embedder, completer, Config{
		TokenBudget: 100,
		Retry:       instantPolicy(domain.KindEmbeddingQuotaExceeded),
	})

	result, err := svc.Ingest(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want FAILED", result.Status)
	}
	if !strings.Contains(result.Error, string(domain.KindEmbeddingCountMismatch)) {
		t.Errorf("error %q does not carry the mismatch kind", result.Error)
	}
	if chunks.replaceCalls != 0 {
		t.Errorf("chunks persisted despite count mismatch: %d calls", chunks.replaceCalls)
	}
	if sources.src.Status() != domain.StatusFailed {
		t.Errorf("stored source status = %q, want FAILED", sources.src.Status())
	}
	if sources.src.ErrorMsg() == "" {
		t.Error("FAILED source must retain a human-readable error string")
	}
}

func TestIngestMissingUploadIsStructuredFailure(t *testing.T) {
	sources := &fakeSources{src: testSource(t)}
	chunks := &fakeChunks{}
	uploads := &fakeUploads{missing: true}
	embedder := &fakeEmbedder{}
	completer := &fakeCompleter{out: `{}`}

	svc := newTestService(sources, chunks, uploads, embedder, completer, Config{
		Retry: instantPolicy(domain.KindEmbeddingQuotaExceeded),
	})

	result, err := svc.Ingest(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("missing upload must be a structured result, got error: %v", err)
	}
	if result.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want FAILED", result.Status)
	}
	if !strings.Contains(result.Error, string(domain.KindMissingUpload)) {
		t.Errorf("error %q does not carry the missing-upload kind", result.Error)
	}
	if len(embedder.calls) != 0 {
		t.Error("embedder must not be called without an upload")
	}
}

func TestIngestUploadStoreFailureIsInfrastructureFault(t *testing.T) {
	sources := &fakeSources{src: testSource(t)}
	chunks := &fakeChunks{}
	uploads := &fakeUploads{getErr: fmt.Errorf("connection refused")}
	embedder := &fakeEmbedder{}
	completer := &fakeCompleter{out: `{}`}

	svc := newTestService(sources, chunks, uploads, embedder, completer, Config{
		Retry: instantPolicy(domain.KindPersistenceBatchFailed),
	})

	result, err := svc.Ingest(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("store failure must be a structured result, got error: %v", err)
	}
	if result.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want FAILED", result.Status)
	}
	if strings.Contains(result.Error, string(domain.KindMissingUpload)) {
		t.Errorf("error %q mislabels a store fault as a missing upload", result.Error)
	}
	if !strings.Contains(result.Error, string(domain.KindPersistenceBatchFailed)) {
		t.Errorf("error %q does not carry the persistence kind", result.Error)
	}
	// Original attempt plus the policy's retries.
	if want := retry.DefaultMaxRetries + 1; uploads.getCalls != want {
		t.Errorf("upload store called %d times, want %d", uploads.getCalls, want)
	}
	if len(embedder.calls) != 0 {
		t.Error("embedder must not be called without a payload")
	}
}

func TestIngestMalformedSummaryFallsBack(t *testing.T) {
	sources := &fakeSources{src: testSource(t)}
	chunks := &fakeChunks{}
	uploads := &fakeUploads{payload: domain.UploadPayload{
		Kind:    domain.SourceKindText,
		Content: threeChunkText(),
	}}
	embedder := &fakeEmbedder{}
	completer := &fakeCompleter{out: `this is not JSON at all`}

	svc := newTestService(sources, chunks, uploads, embedder, completer, Config{
		TokenBudget: 100,
		Retry:       instantPolicy(domain.KindEmbeddingQuotaExceeded),
	})

	result, err := svc.Ingest(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Status != domain.StatusReady {
		t.Fatalf("status = %q, want READY despite malformed summary", result.Status)
	}
	if result.Summary == nil || result.Summary.Abstract == "" {
		t.Fatal("fallback summary must provide a non-empty abstract")
	}
	if !strings.HasPrefix(result.Summary.Abstract, "evidence") {
		t.Errorf("fallback abstract %q is not truncated source text", result.Summary.Abstract)
	}
	if len(result.Summary.Insights) == 0 {
		t.Error("fallback summary must provide placeholder insights")
	}
}

func TestIngestTwiceKeepsOrdersStable(t *testing.T) {
	sources := &fakeSources{src: testSource(t)}
	chunks := &fakeChunks{}
	uploads := &fakeUploads{payload: domain.UploadPayload{
		Kind:    domain.SourceKindText,
		Content: threeChunkText(),
	}}
	embedder := &fakeEmbedder{}
	completer := &fakeCompleter{out: `{"abstract":"A study.","insights":[]}`}

	svc := newTestService(sources, chunks, uploads, embedder, completer, Config{
		TokenBudget: 100,
		Retry:       instantPolicy(domain.KindEmbeddingQuotaExceeded),
	})

	for run := 0; run < 2; run++ {
		uploads.deleted = false
		result, err := svc.Ingest(context.Background(), "src-1")
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if result.Status != domain.StatusReady {
			t.Fatalf("run %d status = %q (error: %s)", run, result.Status, result.Error)
		}
	}

	if chunks.replaceCalls != 2 {
		t.Fatalf("ReplaceForSource called %d times, want 2", chunks.replaceCalls)
	}
	for i, c := range chunks.last {
		if c.Order() != i {
			t.Errorf("chunk %d has order %d, want %d", i, c.Order(), i)
		}
	}
}

type memKV struct {
	data map[string][]byte
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, db.ErrKeyNotFound
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}

func TestIngestFullyCachedRunKeepsEmbeddingModel(t *testing.T) {
	sources := &fakeSources{src: testSource(t)}
	chunks := &fakeChunks{}
	uploads := &fakeUploads{payload: domain.UploadPayload{
		Kind:    domain.SourceKindText,
		Content: threeChunkText(),
	}}
	inner := &fakeEmbedder{}
	cached := embcache.New(inner, &memKV{data: map[string][]byte{}}, "fake-model", nil, zap.NewNop())
	completer := &fakeCompleter{out: `{"abstract":"A study.","insights":[]}`}

	svc := New(sources, chunks, uploads, cached, completer, Config{
		TokenBudget: 100,
		Retry:       instantPolicy(domain.KindEmbeddingQuotaExceeded),
	}, zap.NewNop())

	for run := 0; run < 2; run++ {
		result, err := svc.Ingest(context.Background(), "src-1")
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if result.Status != domain.StatusReady {
			t.Fatalf("run %d status = %q (error: %s)", run, result.Status, result.Error)
		}
	}

	if len(inner.calls) != 1 {
		t.Fatalf("inner embedder called %d times, want 1 (second run fully cached)", len(inner.calls))
	}
	if got := sources.src.EmbeddingModel(); got != "fake-model" {
		t.Errorf("embedding model after cached re-ingestion = %q, want %q", got, "fake-model")
	}
}

func TestIngestCancelledBeforeFailWriteLeavesNoStatusWrite(t *testing.T) {
	sources := &fakeSources{src: testSource(t)}
	chunks := &fakeChunks{}
	uploads := &fakeUploads{payload: domain.UploadPayload{
		Kind:    domain.SourceKindText,
		Content: threeChunkText(),
	}}

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel during the first embedding call so the retry loop aborts.
	embedder := &fakeEmbedder{errs: []error{
		domain.NewPipelineError(domain.KindEmbeddingQuotaExceeded, fmt.Errorf("429")),
	}}
	policy := instantPolicy(domain.KindEmbeddingQuotaExceeded)
	policy.Sleep = func(_ context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	completer := &fakeCompleter{out: `{}`}
	svc := newTestService(sources, chunks, uploads, embedder, completer, Config{
		TokenBudget: 100,
		Retry:       policy,
	})

	_, err := svc.Ingest(ctx, "src-1")
	if err == nil {
		t.Fatal("cancelled ingestion must return an error")
	}
	if chunks.replaceCalls != 0 {
		t.Error("no chunk writes may occur after cancellation")
	}
	// Only the initial PROCESSING save is allowed; no FAILED write follows
	// cancellation.
	if len(sources.saves) != 1 || sources.saves[0] != domain.StatusProcessing {
		t.Errorf("save sequence = %v, want only PROCESSING", sources.saves)
	}
}
