// Package retry is the shared exponential-backoff executor for all external
// calls: embedding batches, completion requests, and store batch writes run
// under the same policy shape.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/scholarlabs/citedex/internal/domain"
)

// Default policy values.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 8 * time.Second
	DefaultMultiplier = 2.0
)

// Policy parameterizes the backoff loop. Retryable lists the error kinds
// worth another attempt; errors without a kind, or with a kind outside the
// set, propagate immediately.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Retryable  []domain.ErrorKind

	// Sleep overrides the inter-attempt wait; tests inject a fake.
	// nil means a context-aware timer sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the shared backoff defaults with the given retryable set.
func DefaultPolicy(retryable ...domain.ErrorKind) Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Multiplier: DefaultMultiplier,
		Retryable:  retryable,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	return p
}

// Delay returns the wait before retrying after the given zero-based attempt:
// min(BaseDelay * Multiplier^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p Policy) retryable(err error) bool {
	kind, ok := domain.KindOf(err)
	if !ok {
		return false
	}
	for _, k := range p.Retryable {
		if k == kind {
			return true
		}
	}
	return false
}

// Do executes op up to MaxRetries+1 times, sleeping between attempts.
// The last causal error always propagates; cancellation during a backoff
// sleep aborts the loop and surfaces both the context error and the causal
// error from the failed attempt.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !p.retryable(err) || attempt == p.MaxRetries {
			return zero, err
		}
		if serr := p.Sleep(ctx, p.Delay(attempt)); serr != nil {
			return zero, fmt.Errorf("retry aborted after attempt %d: %w (last error: %w)", attempt+1, serr, err)
		}
	}
}

// Run executes an operation without a result through the same loop.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// sleep waits for d or until ctx is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
