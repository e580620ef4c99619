package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scholarlabs/citedex/internal/domain"
	"github.com/scholarlabs/citedex/internal/metrics"
)

const defaultCompletionTimeout = 120 * time.Second

// Completer is a chat completion client for OpenAI-compatible APIs. It talks
// to the wire format directly so the streaming consumer owns its own SSE
// parsing rather than depending on SDK internals.
type Completer struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	provider   string
	logger     *zap.Logger
}

// CompleterConfig holds the completion provider settings.
type CompleterConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Provider string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewCompleter creates an OpenAI-compatible chat completion client.
func NewCompleter(cfg *CompleterConfig) *Completer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}

	return &Completer{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		provider:   cfg.Provider,
		logger:     cfg.Logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type streamDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete performs a blocking chat completion and returns the full text.
func (c *Completer) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	resp, err := c.post(ctx, c.buildRequest(req, false))
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "blocking", "error").Inc()
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "blocking", "error").Inc()
		return "", c.statusError(resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "blocking", "error").Inc()
		return "", domain.NewPipelineError(domain.KindGenerationFailed,
			fmt.Errorf("decode completion response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "blocking", "error").Inc()
		return "", domain.NewPipelineError(domain.KindGenerationFailed,
			fmt.Errorf("completion response has no choices"))
	}

	metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "blocking", "success").Inc()
	return parsed.Choices[0].Message.Content, nil
}

// Stream performs a streaming chat completion. The returned channel delivers
// token events as they arrive and is closed after exactly one terminal event
// (done or error). Malformed delta lines are logged and skipped.
func (c *Completer) Stream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	resp, err := c.post(ctx, c.buildRequest(req, true))
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "stream", "error").Inc()
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err := c.statusError(resp)
		resp.Body.Close()
		metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "stream", "error").Inc()
		return nil, err
	}

	metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "stream", "success").Inc()

	events := make(chan domain.StreamEvent)
	go c.consume(ctx, resp.Body, events)
	return events, nil
}

// consume reads SSE lines from the response body until the [DONE] sentinel,
// EOF, or cancellation, emitting exactly one terminal event before closing.
// The terminal send blocks until received; callers drain the channel until
// it is closed.
func (c *Completer) consume(ctx context.Context, body io.ReadCloser, events chan<- domain.StreamEvent) {
	defer close(events)
	defer body.Close()

	// emit sends a token event unless the caller has gone away.
	emit := func(ev domain.StreamEvent) bool {
		metrics.CompletionStreamEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// terminal always delivers so the stream ends with exactly one
	// done or error event even when ctx is already cancelled.
	terminal := func(ev domain.StreamEvent) {
		metrics.CompletionStreamEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		events <- ev
	}

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSpace(line)
			if payload, ok := strings.CutPrefix(line, "data:"); ok {
				payload = strings.TrimSpace(payload)
				if payload == "[DONE]" {
					terminal(domain.DoneEvent())
					return
				}
				var delta streamDelta
				if jerr := json.Unmarshal([]byte(payload), &delta); jerr != nil {
					c.logger.Debug("skipping malformed stream delta",
						zap.String("payload", payload), zap.Error(jerr))
				} else if len(delta.Choices) > 0 && delta.Choices[0].Delta.Content != "" {
					if !emit(domain.TokenEvent(delta.Choices[0].Delta.Content)) {
						// A token send lost the race with cancellation; the
						// stream still ends with its one terminal event.
						terminal(domain.ErrorEvent(fmt.Sprintf("stream cancelled: %v", ctx.Err())))
						return
					}
				}
			}
		}

		if err != nil {
			if err == io.EOF {
				// Provider closed the stream without a sentinel; treat a
				// clean EOF as completion.
				terminal(domain.DoneEvent())
			} else if ctx.Err() != nil {
				terminal(domain.ErrorEvent(fmt.Sprintf("stream cancelled: %v", ctx.Err())))
			} else {
				terminal(domain.ErrorEvent(fmt.Sprintf("stream read failed: %v", err)))
			}
			return
		}

		select {
		case <-ctx.Done():
			terminal(domain.ErrorEvent(fmt.Sprintf("stream cancelled: %v", ctx.Err())))
			return
		default:
		}
	}
}

func (c *Completer) buildRequest(req domain.CompletionRequest, stream bool) chatRequest {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	return chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

func (c *Completer) post(ctx context.Context, payload chatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindGenerationFailed,
			fmt.Errorf("marshal completion request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindGenerationFailed,
			fmt.Errorf("build completion request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindStreamTransport,
			fmt.Errorf("completion request failed: %w", err))
	}
	return resp, nil
}

func (c *Completer) statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return domain.NewPipelineError(kindForStatus(resp.StatusCode),
		fmt.Errorf("completion API error %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
}
