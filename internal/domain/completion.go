package domain

import "context"

// CompletionRequest describes one text generation call.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Completer is the uniform text generation contract.
type Completer interface {
	// Complete runs a single-shot generation and returns the full text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Stream runs an incremental generation. The returned channel delivers
	// token events in arrival order and is closed after exactly one terminal
	// done or error event. Callers must drain the channel until it is closed.
	// A non-nil error means the request could not be issued at all and no
	// channel is returned.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

// StreamEventType discriminates stream event variants.
type StreamEventType string

// Stream event variants.
const (
	StreamToken StreamEventType = "token"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// StreamEvent is one parsed event from an incremental completion stream.
type StreamEvent struct {
	Type    StreamEventType
	Content string // token text, or error message for StreamError
}

// TokenEvent builds a token event.
func TokenEvent(content string) StreamEvent {
	return StreamEvent{Type: StreamToken, Content: content}
}

// DoneEvent builds the successful terminal event.
func DoneEvent() StreamEvent { return StreamEvent{Type: StreamDone} }

// ErrorEvent builds the failure terminal event.
func ErrorEvent(msg string) StreamEvent {
	return StreamEvent{Type: StreamError, Content: msg}
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == StreamDone || e.Type == StreamError
}
