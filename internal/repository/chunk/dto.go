package chunk

import (
	"encoding/json"
	"fmt"

	"github.com/scholarlabs/citedex/internal/domain"
)

// chunkDoc is the stored JSON shape of a SourceChunk.
type chunkDoc struct {
	ID           string    `json:"id"`
	SourceID     string    `json:"source_id"`
	ProjectID    string    `json:"project_id"`
	Order        int       `json:"order"`
	Text         string    `json:"text"`
	ApproxTokens int       `json:"approx_tokens"`
	Embedding    []float32 `json:"embedding,omitempty"`
	Heading      string    `json:"heading,omitempty"`
	PageStart    int       `json:"page_start,omitempty"`
	PageEnd      int       `json:"page_end,omitempty"`
}

func marshalChunk(c *domain.SourceChunk) ([]byte, error) {
	ps, pe := c.PageRange()
	doc := chunkDoc{
		ID:           c.ID(),
		SourceID:     c.SourceID(),
		ProjectID:    c.ProjectID(),
		Order:        c.Order(),
		Text:         c.Text(),
		ApproxTokens: c.ApproxTokens(),
		Embedding:    c.Embedding(),
		Heading:      c.Heading(),
		PageStart:    ps,
		PageEnd:      pe,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal chunk %s: %w", c.ID(), err)
	}
	return data, nil
}

func unmarshalChunk(data []byte) (domain.SourceChunk, error) {
	var doc chunkDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.SourceChunk{}, fmt.Errorf("unmarshal chunk: %w", err)
	}
	return domain.ReconstructChunk(
		doc.ID, doc.SourceID, doc.ProjectID, doc.Order, doc.Text,
		doc.ApproxTokens, doc.Embedding, doc.Heading, doc.PageStart, doc.PageEnd,
	), nil
}
