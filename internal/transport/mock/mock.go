// Package mock provides deterministic offline embedding and completion
// providers for local development and tests, selected when no API key is
// configured.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/scholarlabs/citedex/internal/domain"
)

// ModelID reported by the mock providers.
const (
	EmbedderModelID  = "mock-embedder"
	CompleterModelID = "mock-completer"
)

// Embedder produces fixed-dimension unit vectors derived from a hash of the
// input text. Identical text always yields the identical vector.
type Embedder struct {
	dimensions int
}

// NewEmbedder creates a deterministic embedder with the given dimensionality.
func NewEmbedder(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &Embedder{dimensions: dimensions}
}

// EmbedBatch implements domain.BatchEmbedder.
func (e *Embedder) EmbedBatch(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vector(text)
	}
	return domain.BatchEmbeddingResult{
		Embeddings: vectors,
		ModelID:    EmbedderModelID,
		Latency:    time.Millisecond,
	}, nil
}

// HealthCheck always reports healthy.
func (e *Embedder) HealthCheck(_ context.Context) error { return nil }

// vector expands the text hash into e.dimensions components and normalizes
// the result to unit length.
func (e *Embedder) vector(text string) []float32 {
	seed := sha256.Sum256([]byte(text))

	vec := make([]float32, e.dimensions)
	var norm float64
	for i := range vec {
		var block [8]byte
		copy(block[:], seed[(i*4)%len(seed):])
		binary.LittleEndian.PutUint32(block[4:], uint32(i))
		h := sha256.Sum256(block[:])
		// Map the first 4 hash bytes onto [-1, 1).
		raw := binary.LittleEndian.Uint32(h[:4])
		v := float64(raw)/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Completer returns canned responses. Complete yields a strict JSON summary
// document so the summarization path parses without fallback; Stream yields
// a fixed token sequence followed by a done event.
type Completer struct{}

// NewCompleter creates the canned completion provider.
func NewCompleter() *Completer { return &Completer{} }

type mockSummary struct {
	Abstract string   `json:"abstract"`
	Insights []string `json:"insights"`
}

// Complete implements domain.Completer.
func (c *Completer) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	excerpt := req.User
	if len(excerpt) > 120 {
		excerpt = excerpt[:120]
		// A byte cut can land inside a multibyte rune; trim to a boundary.
		for len(excerpt) > 0 && !utf8.ValidString(excerpt) {
			excerpt = excerpt[:len(excerpt)-1]
		}
	}
	doc := mockSummary{
		Abstract: fmt.Sprintf("Offline summary of %d characters of input.", len(req.User)),
		Insights: []string{
			"Generated by the offline completion provider.",
			fmt.Sprintf("Input begins with: %s", strings.TrimSpace(excerpt)),
		},
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", domain.NewPipelineError(domain.KindGenerationFailed, err)
	}
	return string(out), nil
}

// Stream implements domain.Completer with a fixed token sequence.
func (c *Completer) Stream(ctx context.Context, _ domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	tokens := []string{"This ", "is ", "an ", "offline ", "draft ", "response."}

	events := make(chan domain.StreamEvent)
	go func() {
		defer close(events)
		for _, tok := range tokens {
			select {
			case events <- domain.TokenEvent(tok):
			case <-ctx.Done():
				events <- domain.ErrorEvent(fmt.Sprintf("stream cancelled: %v", ctx.Err()))
				return
			}
		}
		events <- domain.DoneEvent()
	}()
	return events, nil
}
