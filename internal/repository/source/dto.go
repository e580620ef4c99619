package source

import (
	"encoding/json"
	"fmt"

	"github.com/scholarlabs/citedex/internal/domain"
)

// sourceDoc is the stored JSON shape of a Source.
type sourceDoc struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	ProjectID      string   `json:"project_id"`
	Title          string   `json:"title,omitempty"`
	Kind           string   `json:"kind"`
	Status         string   `json:"status"`
	Abstract       string   `json:"abstract,omitempty"`
	Insights       []string `json:"insights,omitempty"`
	ChunkCount     int      `json:"chunk_count"`
	TotalTokens    int      `json:"total_tokens"`
	EmbeddingModel string   `json:"embedding_model,omitempty"`
	ErrorMsg       string   `json:"error,omitempty"`
	Reliability    float64  `json:"reliability"`
	CreatedAt      int64    `json:"created_at"`
	UpdatedAt      int64    `json:"updated_at"`
}

func marshalSource(src *domain.Source) ([]byte, error) {
	doc := sourceDoc{
		ID:             src.ID(),
		UserID:         src.UserID(),
		ProjectID:      src.ProjectID(),
		Title:          src.Title(),
		Kind:           string(src.Kind()),
		Status:         string(src.Status()),
		Abstract:       src.Summary().Abstract,
		Insights:       src.Summary().Insights,
		ChunkCount:     src.ChunkCount(),
		TotalTokens:    src.TotalTokens(),
		EmbeddingModel: src.EmbeddingModel(),
		ErrorMsg:       src.ErrorMsg(),
		Reliability:    src.Reliability(),
		CreatedAt:      src.CreatedAt(),
		UpdatedAt:      src.UpdatedAt(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal source %s: %w", src.ID(), err)
	}
	return data, nil
}

func unmarshalSource(data []byte) (domain.Source, error) {
	var doc sourceDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Source{}, fmt.Errorf("unmarshal source: %w", err)
	}
	return domain.ReconstructSource(
		doc.ID, doc.UserID, doc.ProjectID, doc.Title,
		domain.SourceKind(doc.Kind), domain.Status(doc.Status),
		domain.Summary{Abstract: doc.Abstract, Insights: doc.Insights},
		doc.ChunkCount, doc.TotalTokens, doc.EmbeddingModel, doc.ErrorMsg,
		doc.Reliability, doc.CreatedAt, doc.UpdatedAt,
	), nil
}
