package domain

// Weights are the ranking factor weights. Product-tuned defaults, carried in
// configuration rather than fixed invariants.
type Weights struct {
	Similarity  float64
	Recency     float64
	Reliability float64
	Context     float64
	Diversity   float64
}

// DefaultWeights returns the default ranking weights.
func DefaultWeights() Weights {
	return Weights{
		Similarity:  0.45,
		Recency:     0.15,
		Reliability: 0.15,
		Context:     0.15,
		Diversity:   0.10,
	}
}

// Sum returns the total weight mass.
func (w Weights) Sum() float64 {
	return w.Similarity + w.Recency + w.Reliability + w.Context + w.Diversity
}

// RelevanceScore is the per-(chunk, query) score breakdown, computed at
// retrieval time and never persisted. All sub-scores are normalized to [0,1].
type RelevanceScore struct {
	Similarity  float64
	Recency     float64
	Reliability float64
	Context     float64
	Diversity   float64
	Total       float64
}
