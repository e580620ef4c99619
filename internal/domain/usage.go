package domain

import "context"

type usageKey struct{}

// EmbeddingUsage collects provider token usage for a single request or
// ingestion run. The caller puts a mutable pointer into the context before
// invoking a service; the service accumulates after each provider batch; the
// caller reads the totals for response headers or result payloads.
type EmbeddingUsage struct {
	PromptTokens int
	TotalTokens  int
	Used         bool // true once a provider was called, even with 0 tokens reported
}

// NewContextWithUsage returns a context carrying a fresh usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(usageKey{}).(*EmbeddingUsage)
	return u
}

// AddTokens records consumed tokens. Safe on a nil receiver.
func (u *EmbeddingUsage) AddTokens(prompt, total int) {
	if u != nil {
		u.PromptTokens += prompt
		u.TotalTokens += total
		u.Used = true
	}
}
