package chi

import (
	"github.com/scholarlabs/citedex/internal/domain"
	retrieveuc "github.com/scholarlabs/citedex/internal/usecase/retrieve"
)

type summaryPayload struct {
	Abstract string   `json:"abstract"`
	Insights []string `json:"insights,omitempty"`
}

type sourceResponse struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	ProjectID      string          `json:"projectId"`
	Title          string          `json:"title"`
	Kind           string          `json:"kind"`
	Status         string          `json:"status"`
	Summary        *summaryPayload `json:"summary,omitempty"`
	ChunkCount     int             `json:"chunkCount"`
	TotalTokens    int             `json:"totalTokens"`
	EmbeddingModel string          `json:"embeddingModel,omitempty"`
	Error          string          `json:"error,omitempty"`
	Reliability    float64         `json:"reliability"`
	CreatedAt      int64           `json:"createdAt"`
	UpdatedAt      int64           `json:"updatedAt"`
}

func sourceToResponse(src *domain.Source) sourceResponse {
	resp := sourceResponse{
		ID:             src.ID(),
		UserID:         src.UserID(),
		ProjectID:      src.ProjectID(),
		Title:          src.Title(),
		Kind:           string(src.Kind()),
		Status:         string(src.Status()),
		ChunkCount:     src.ChunkCount(),
		TotalTokens:    src.TotalTokens(),
		EmbeddingModel: src.EmbeddingModel(),
		Error:          src.ErrorMsg(),
		Reliability:    src.Reliability(),
		CreatedAt:      src.CreatedAt(),
		UpdatedAt:      src.UpdatedAt(),
	}
	if summary := src.Summary(); !summary.IsZero() {
		resp.Summary = &summaryPayload{
			Abstract: summary.Abstract,
			Insights: summary.Insights,
		}
	}
	return resp
}

type weightsPayload struct {
	Similarity  float64 `json:"similarity"`
	Recency     float64 `json:"recency"`
	Reliability float64 `json:"reliability"`
	Context     float64 `json:"context"`
	Diversity   float64 `json:"diversity"`
}

func (w weightsPayload) toDomain() domain.Weights {
	return domain.Weights{
		Similarity:  w.Similarity,
		Recency:     w.Recency,
		Reliability: w.Reliability,
		Context:     w.Context,
		Diversity:   w.Diversity,
	}
}

type scorePayload struct {
	Similarity  float64 `json:"similarity"`
	Recency     float64 `json:"recency"`
	Reliability float64 `json:"reliability"`
	Context     float64 `json:"context"`
	Diversity   float64 `json:"diversity"`
	Total       float64 `json:"total"`
}

type rankedChunkPayload struct {
	ID        string       `json:"id"`
	SourceID  string       `json:"sourceId"`
	Order     int          `json:"order"`
	Text      string       `json:"text"`
	Heading   string       `json:"heading,omitempty"`
	PageStart int          `json:"pageStart,omitempty"`
	PageEnd   int          `json:"pageEnd,omitempty"`
	Score     scorePayload `json:"score"`
}

type retrieveResponse struct {
	Results []rankedChunkPayload `json:"results"`
}

func rankedToResponse(ranked []retrieveuc.Ranked) retrieveResponse {
	results := make([]rankedChunkPayload, 0, len(ranked))
	for _, r := range ranked {
		start, end := r.Chunk.PageRange()
		results = append(results, rankedChunkPayload{
			ID:        r.Chunk.ID(),
			SourceID:  r.Chunk.SourceID(),
			Order:     r.Chunk.Order(),
			Text:      r.Chunk.Text(),
			Heading:   r.Chunk.Heading(),
			PageStart: start,
			PageEnd:   end,
			Score: scorePayload{
				Similarity:  r.Score.Similarity,
				Recency:     r.Score.Recency,
				Reliability: r.Score.Reliability,
				Context:     r.Score.Context,
				Diversity:   r.Score.Diversity,
				Total:       r.Score.Total,
			},
		})
	}
	return retrieveResponse{Results: results}
}
