// Package retrieve ranks a project's evidence chunks against a query with
// explainable, reproducible multi-factor scores.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/scholarlabs/citedex/internal/domain"
	"github.com/scholarlabs/citedex/internal/retry"
)

// DefaultTopK is the result count when the caller does not specify one.
const DefaultTopK = 8

// Options tune one retrieval call.
type Options struct {
	TopK int
	// Weights override the configured ranking weights when non-zero.
	Weights domain.Weights
	// Context is the drafting context used for the contextual relevance
	// factor, e.g. "section drafting" or "fact lookup".
	Context string
}

// Ranked pairs a chunk with its score breakdown.
type Ranked struct {
	Chunk domain.SourceChunk
	Score domain.RelevanceScore
}

// Service is the retrieval engine.
type Service struct {
	chunks   ChunkRepo
	sources  SourceRepo
	embedder QueryEmbedder
	weights  domain.Weights
	policy   retry.Policy
	logger   *zap.Logger
	now      func() int64
}

// New creates a retrieval service with the configured default weights.
func New(
	chunks ChunkRepo,
	sources SourceRepo,
	embedder QueryEmbedder,
	weights domain.Weights,
	policy retry.Policy,
	logger *zap.Logger,
) *Service {
	if weights.Sum() <= 0 {
		weights = domain.DefaultWeights()
	}
	return &Service{
		chunks:   chunks,
		sources:  sources,
		embedder: embedder,
		weights:  weights,
		policy:   policy,
		logger:   logger,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Retrieve returns the top-K chunks of the project ranked against the query.
// Identical inputs yield identical output order. When any chunk in the
// project lacks an embedding the engine degrades to uniform scores instead
// of failing, so callers can surface "no evidence available".
func (s *Service) Retrieve(ctx context.Context, projectID, query string, opts Options) ([]Ranked, error) {
	chunks, err := s.chunks.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > len(chunks) {
		topK = len(chunks)
	}

	weights := opts.Weights
	if weights.Sum() <= 0 {
		weights = s.weights
	}

	if missingEmbeddings(chunks) {
		s.logger.Warn("project has chunks without embeddings, degrading to uniform ranking",
			zap.String("project_id", projectID))
		return uniformRanking(chunks, topK), nil
	}

	queryVec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	srcByID, err := s.sources.GetMany(ctx, sourceIDs(chunks))
	if err != nil {
		return nil, fmt.Errorf("resolve sources: %w", err)
	}

	now := s.now()
	base := make([]domain.RelevanceScore, len(chunks))
	for i, c := range chunks {
		score := domain.RelevanceScore{
			Similarity:  similarityScore(queryVec, c.Embedding()),
			Recency:     neutralScore,
			Reliability: neutralScore,
			Context:     contextScore(opts.Context, c.Heading()),
		}
		if src, ok := srcByID[c.SourceID()]; ok {
			score.Recency = recencyScore(src.UpdatedAt(), now)
			score.Reliability = reliabilityScore(src.Reliability())
		}
		base[i] = score
	}

	return s.selectTopK(chunks, base, weights, topK), nil
}

// selectTopK runs greedy selection: each round picks the best remaining
// chunk with the diversity factor computed against the already selected set,
// so near-duplicates of chosen passages are penalized at selection time.
func (s *Service) selectTopK(
	chunks []domain.SourceChunk, base []domain.RelevanceScore,
	weights domain.Weights, topK int,
) []Ranked {
	remaining := make([]int, len(chunks))
	for i := range remaining {
		remaining[i] = i
	}

	selected := make([]Ranked, 0, topK)
	for len(selected) < topK && len(remaining) > 0 {
		bestPos := -1
		var bestScore domain.RelevanceScore

		for pos, idx := range remaining {
			score := base[idx]
			score.Diversity = diversityScore(chunks[idx], selected)
			score.Total = total(score, weights)

			if bestPos == -1 || better(score, chunks[idx], bestScore, chunks[remaining[bestPos]]) {
				bestPos = pos
				bestScore = score
			}
		}

		idx := remaining[bestPos]
		selected = append(selected, Ranked{Chunk: chunks[idx], Score: bestScore})
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}
	return selected
}

// better orders candidates by total score, then ascending chunk order, then
// source id, for deterministic results on ties.
func better(a domain.RelevanceScore, ac domain.SourceChunk, b domain.RelevanceScore, bc domain.SourceChunk) bool {
	if a.Total != b.Total {
		return a.Total > b.Total
	}
	if ac.Order() != bc.Order() {
		return ac.Order() < bc.Order()
	}
	return ac.SourceID() < bc.SourceID()
}

// diversityScore is 1 minus the highest similarity to any already selected
// chunk; the first pick always scores 1.
func diversityScore(c domain.SourceChunk, selected []Ranked) float64 {
	maxSim := 0.0
	for _, sel := range selected {
		sim := similarityScore(c.Embedding(), sel.Chunk.Embedding())
		if sim > maxSim {
			maxSim = sim
		}
	}
	return 1 - maxSim
}

func total(score domain.RelevanceScore, w domain.Weights) float64 {
	sum := w.Sum()
	if sum <= 0 {
		return 0
	}
	return (w.Similarity*score.Similarity +
		w.Recency*score.Recency +
		w.Reliability*score.Reliability +
		w.Context*score.Context +
		w.Diversity*score.Diversity) / sum
}

func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	result, err := retry.Do(ctx, s.policy, func(ctx context.Context) (domain.BatchEmbeddingResult, error) {
		return s.embedder.EmbedBatch(ctx, []string{query})
	})
	if err != nil {
		return nil, err
	}
	if len(result.Embeddings) != 1 {
		return nil, domain.NewPipelineError(domain.KindEmbeddingCountMismatch,
			fmt.Errorf("got %d vectors for the query", len(result.Embeddings)))
	}
	domain.UsageFromContext(ctx).AddTokens(result.PromptTokens, result.TotalTokens)
	return result.Embeddings[0], nil
}

func missingEmbeddings(chunks []domain.SourceChunk) bool {
	for _, c := range chunks {
		if len(c.Embedding()) == 0 {
			return true
		}
	}
	return false
}

// uniformRanking assigns every chunk the neutral score and picks the first
// topK in (order, source id) order. No query embedding is issued.
func uniformRanking(chunks []domain.SourceChunk, topK int) []Ranked {
	ordered := make([]domain.SourceChunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Order() != ordered[j].Order() {
			return ordered[i].Order() < ordered[j].Order()
		}
		return ordered[i].SourceID() < ordered[j].SourceID()
	})

	ranked := make([]Ranked, 0, topK)
	for _, c := range ordered[:topK] {
		ranked = append(ranked, Ranked{Chunk: c, Score: domain.RelevanceScore{
			Similarity:  neutralScore,
			Recency:     neutralScore,
			Reliability: neutralScore,
			Context:     neutralScore,
			Diversity:   neutralScore,
			Total:       neutralScore,
		}})
	}
	return ranked
}

func sourceIDs(chunks []domain.SourceChunk) []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, c := range chunks {
		if _, ok := seen[c.SourceID()]; ok {
			continue
		}
		seen[c.SourceID()] = struct{}{}
		ids = append(ids, c.SourceID())
	}
	return ids
}
