package retrieve

import (
	"math"
	"strings"
)

// recencyHalfLife controls the exponential decay of the recency sub-score:
// a source ingested this many seconds ago scores 0.5.
const recencyHalfLife = 30 * 24 * 60 * 60

// neutralScore stands in for a sub-score when no signal is available.
const neutralScore = 0.5

// cosine returns the cosine similarity of two vectors, 0 for mismatched or
// zero-length input.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// similarityScore maps cosine similarity from [-1,1] onto [0,1].
func similarityScore(query, chunk []float32) float64 {
	return (cosine(query, chunk) + 1) / 2
}

// recencyScore decays exponentially with source age.
func recencyScore(updatedAt, now int64) float64 {
	age := now - updatedAt
	if age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(recencyHalfLife))
}

// reliabilityScore clamps the source trust weight into [0,1].
func reliabilityScore(reliability float64) float64 {
	if reliability < 0 {
		return 0
	}
	if reliability > 1 {
		return 1
	}
	return reliability
}

// contextScore measures word overlap between the requested drafting context
// and the chunk heading. Neutral when no context is requested.
func contextScore(requested, heading string) float64 {
	ctxWords := fields(requested)
	if len(ctxWords) == 0 {
		return neutralScore
	}
	headingWords := make(map[string]struct{})
	for _, w := range fields(heading) {
		headingWords[w] = struct{}{}
	}
	if len(headingWords) == 0 {
		return 0
	}
	matched := 0
	for _, w := range ctxWords {
		if _, ok := headingWords[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(ctxWords))
}

func fields(s string) []string {
	return strings.Fields(strings.ToLower(s))
}
