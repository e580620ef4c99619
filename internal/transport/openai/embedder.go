// Package openai implements the embedding and completion provider contracts
// over OpenAI-compatible APIs.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/scholarlabs/citedex/internal/domain"
	"github.com/scholarlabs/citedex/internal/metrics"
)

// Embedder is an embedding provider using the OpenAI-compatible API.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	user       string
	provider   string
	logger     *zap.Logger
}

// EmbedderConfig holds the embedding provider settings.
type EmbedderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	User       string
	Provider   string
	Logger     *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *EmbedderConfig) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		user:       cfg.User,
		provider:   cfg.Provider,
		logger:     cfg.Logger,
	}
}

// EmbedBatch implements domain.BatchEmbedder: one provider call per batch,
// vectors returned in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()

	resp, err := e.client.CreateEmbeddings(ctx, req)

	duration := time.Since(start)

	if err != nil {
		classified := classifyEmbeddingError(err)
		kind, _ := domain.KindOf(classified)
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, string(e.model), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, string(e.model), string(kind)).Inc()
		return domain.BatchEmbeddingResult{}, classified
	}

	if len(resp.Data) == 0 {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, string(e.model), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, string(e.model), "empty_response").Inc()
		return domain.BatchEmbeddingResult{}, domain.NewPipelineError(
			domain.KindGenerationFailed, fmt.Errorf("empty embedding response"))
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, string(e.model), "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, string(e.model)).Observe(duration.Seconds())

	totalTokens := resp.Usage.TotalTokens
	promptTokens := resp.Usage.PromptTokens
	if totalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, string(e.model), "prompt").Add(float64(promptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, string(e.model), "total").Add(float64(totalTokens))
	}

	// The API may return data out of order; place vectors by index.
	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return domain.BatchEmbeddingResult{}, domain.NewPipelineError(
				domain.KindGenerationFailed,
				fmt.Errorf("embedding index %d out of range for %d inputs", d.Index, len(vectors)))
		}
		vectors[d.Index] = d.Embedding
	}

	return domain.BatchEmbeddingResult{
		Embeddings:   vectors,
		ModelID:      string(e.model),
		Latency:      duration,
		PromptTokens: promptTokens,
		TotalTokens:  totalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// classifyEmbeddingError maps a provider failure onto the pipeline taxonomy:
// 429 is a retryable quota condition, 401/403 a fatal auth failure, 5xx a
// retryable outage, everything else a fatal generation failure.
func classifyEmbeddingError(err error) error {
	status := 0
	detail := err.Error()

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		status = reqErr.HTTPStatusCode
		if len(reqErr.Body) > 0 {
			detail = string(reqErr.Body)
		}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
		detail = apiErr.Message
	}

	return domain.NewPipelineError(kindForStatus(status),
		fmt.Errorf("embedding API error %d: %s: %w", status, detail, err))
}

func kindForStatus(status int) domain.ErrorKind {
	switch {
	case status == 429:
		return domain.KindEmbeddingQuotaExceeded
	case status == 401 || status == 403:
		return domain.KindEmbeddingAuthFailed
	case status >= 500:
		return domain.KindEmbeddingUnavailable
	default:
		return domain.KindGenerationFailed
	}
}
