package retry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrExhausted is returned by Backoff.Wait once the strategy allows no further attempts.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Backoff walks a Strategy one failure at a time.
// Reset returns it to the base delay after a successful attempt.
//
// Thread safety: Safe for concurrent use.
type Backoff struct {
	strategy Strategy

	mu      sync.Mutex
	attempt int
}

// NewBackoff creates a Backoff positioned at the first attempt.
func NewBackoff(strategy Strategy) *Backoff {
	return &Backoff{strategy: strategy}
}

// Next returns the delay for the next retry and advances the attempt counter.
// ok is false when the strategy allows no further attempts.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.strategy.IsRetryable(b.attempt) {
		return 0, false
	}
	delay = b.strategy.CalculateRetryDelay(b.attempt)
	b.attempt++
	return delay, true
}

// Attempts returns the number of consecutive failures recorded since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Reset returns the backoff to the first attempt.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// Wait sleeps for the next delay or until ctx is done.
// It returns ctx.Err() on cancellation and ErrExhausted when no attempts remain.
func (b *Backoff) Wait(ctx context.Context) error {
	delay, ok := b.Next()
	if !ok {
		return ErrExhausted
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
