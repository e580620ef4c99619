package domain

import "fmt"

// SourceChunk is one bounded, independently embeddable evidence unit.
// Chunks carry a stable zero-based order within their source.
type SourceChunk struct {
	id           string
	sourceID     string
	projectID    string
	order        int
	text         string
	approxTokens int
	embedding    []float32
	heading      string
	pageStart    int
	pageEnd      int
}

// NewSourceChunk validates and creates a SourceChunk.
// pageStart/pageEnd are 1-based; pass 0 for both when no page range applies.
func NewSourceChunk(
	id, sourceID, projectID string, order int, text string,
	approxTokens int, embedding []float32, heading string, pageStart, pageEnd int,
) (SourceChunk, error) {
	if id == "" {
		return SourceChunk{}, fmt.Errorf("chunk ID is required")
	}
	if sourceID == "" || projectID == "" {
		return SourceChunk{}, fmt.Errorf("chunk parent IDs are required")
	}
	if order < 0 {
		return SourceChunk{}, fmt.Errorf("chunk order must be non-negative, got %d", order)
	}
	if text == "" {
		return SourceChunk{}, fmt.Errorf("chunk text is required")
	}
	if pageEnd < pageStart {
		return SourceChunk{}, fmt.Errorf("invalid page range %d-%d", pageStart, pageEnd)
	}
	return SourceChunk{
		id:           id,
		sourceID:     sourceID,
		projectID:    projectID,
		order:        order,
		text:         text,
		approxTokens: approxTokens,
		embedding:    embedding,
		heading:      heading,
		pageStart:    pageStart,
		pageEnd:      pageEnd,
	}, nil
}

// ReconstructChunk creates a SourceChunk without validation (storage hydration).
func ReconstructChunk(
	id, sourceID, projectID string, order int, text string,
	approxTokens int, embedding []float32, heading string, pageStart, pageEnd int,
) SourceChunk {
	return SourceChunk{
		id:           id,
		sourceID:     sourceID,
		projectID:    projectID,
		order:        order,
		text:         text,
		approxTokens: approxTokens,
		embedding:    embedding,
		heading:      heading,
		pageStart:    pageStart,
		pageEnd:      pageEnd,
	}
}

// ID returns the chunk identifier.
func (c *SourceChunk) ID() string { return c.id }

// SourceID returns the parent source identifier.
func (c *SourceChunk) SourceID() string { return c.sourceID }

// ProjectID returns the parent project identifier.
func (c *SourceChunk) ProjectID() string { return c.projectID }

// Order returns the zero-based position within the source.
func (c *SourceChunk) Order() int { return c.order }

// Text returns the chunk text.
func (c *SourceChunk) Text() string { return c.text }

// ApproxTokens returns the heuristic token estimate.
func (c *SourceChunk) ApproxTokens() int { return c.approxTokens }

// Embedding returns the embedding vector (may be nil for degraded chunks).
func (c *SourceChunk) Embedding() []float32 { return c.embedding }

// Heading returns the attached heading label, if any.
func (c *SourceChunk) Heading() string { return c.heading }

// PageRange returns the 1-based page span; (0,0) when not applicable.
func (c *SourceChunk) PageRange() (int, int) { return c.pageStart, c.pageEnd }
