package chi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/scholarlabs/citedex/internal/domain"
)

type draftRequest struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
}

type draftEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// handleDraftStream relays the completion stream to the client as SSE.
// Token events are flushed as they arrive; the stream always closes with a
// single terminal done or error event.
func (s *Server) handleDraftStream(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "Prompt is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	events, err := s.completer.Stream(r.Context(), domain.CompletionRequest{
		System:      req.System,
		User:        req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		payload, merr := json.Marshal(draftEvent{Type: string(ev.Type), Content: ev.Content})
		if merr != nil {
			s.logger.Error("marshal stream event", zap.Error(merr))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		if ev.Terminal() {
			// Drain remaining events so the consumer goroutine exits.
			for range events {
			}
			return
		}
	}
}
