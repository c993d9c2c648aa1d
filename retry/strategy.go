// Package retry provides the exponential backoff used when a transport drops and the
// connection has to be re-established.
package retry

import (
	"fmt"
	"math"
	"time"
)

// Strategy defines the reconnect backoff configuration.
//
// The schedule follows: delay = min(BaseDelay * ExponentialBase^attempt, MaxDelay)
//
// Example with defaults (500ms base, 2.0 exponential, 30s max):
//
//	Attempt 0: 500ms
//	Attempt 1: 1s
//	Attempt 2: 2s
//	...
//	Attempt 6+: 30s
type Strategy struct {
	MaxAttempts     int           // Consecutive failures allowed before giving up; 0 retries forever
	BaseDelay       time.Duration // Delay before the first retry
	MaxDelay        time.Duration // Upper bound for any single delay
	ExponentialBase float64       // Backoff multiplier (e.g., 2.0 for doubling)
}

// DefaultStrategy returns the reconnect strategy used by the client connector:
// unlimited attempts, 500ms→30s exponential backoff.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxAttempts:     0,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
	}
}

// Validate checks that the strategy can produce a schedule.
func (s Strategy) Validate() error {
	if s.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be > 0, got %v", s.BaseDelay)
	}
	if s.MaxDelay < s.BaseDelay {
		return fmt.Errorf("max delay %v is below base delay %v", s.MaxDelay, s.BaseDelay)
	}
	if s.ExponentialBase < 1 {
		return fmt.Errorf("exponential base must be >= 1, got %v", s.ExponentialBase)
	}
	if s.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be >= 0, got %d", s.MaxAttempts)
	}
	return nil
}

// CalculateRetryDelay calculates the delay before retry number attemptNumber (0-based).
// Formula: delay = min(BaseDelay * ExponentialBase^attemptNumber, MaxDelay)
func (s Strategy) CalculateRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber <= 0 {
		return s.BaseDelay
	}

	delay := float64(s.BaseDelay) * math.Pow(s.ExponentialBase, float64(attemptNumber))

	if delay > float64(s.MaxDelay) || math.IsInf(delay, 1) {
		return s.MaxDelay
	}

	return time.Duration(delay)
}

// IsRetryable checks if another attempt is allowed after attemptCount consecutive failures.
func (s Strategy) IsRetryable(attemptCount int) bool {
	return s.MaxAttempts == 0 || attemptCount < s.MaxAttempts
}

// GetRetrySchedule returns a human-readable description of the first n delays.
//
// Example output:
//
//	Retry Schedule:
//	  Attempt 1: after 500ms
//	  Attempt 2: after 1s
func (s Strategy) GetRetrySchedule(n int) string {
	schedule := "Retry Schedule:\n"
	for i := 0; i < n; i++ {
		if !s.IsRetryable(i) {
			schedule += "  → Give up\n"
			break
		}
		schedule += fmt.Sprintf("  Attempt %d: after %v\n", i+1, s.CalculateRetryDelay(i))
	}
	return schedule
}
