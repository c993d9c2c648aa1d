package retry

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultStrategy(t *testing.T) {
	strategy := DefaultStrategy()

	assert.Equal(t, 0, strategy.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, strategy.BaseDelay)
	assert.Equal(t, 30*time.Second, strategy.MaxDelay)
	assert.Equal(t, 2.0, strategy.ExponentialBase)
	assert.NoError(t, strategy.Validate())
}

func TestStrategy_CalculateRetryDelay(t *testing.T) {
	strategy := DefaultStrategy()

	tests := []struct {
		name          string
		attemptNumber int
		expectedDelay time.Duration
	}{
		{name: "Negative attempt - base delay", attemptNumber: -1, expectedDelay: 500 * time.Millisecond},
		{name: "First retry - base delay", attemptNumber: 0, expectedDelay: 500 * time.Millisecond},
		{name: "Second retry - doubled", attemptNumber: 1, expectedDelay: time.Second},
		{name: "Third retry", attemptNumber: 2, expectedDelay: 2 * time.Second},
		{name: "Sixth retry", attemptNumber: 5, expectedDelay: 16 * time.Second},
		{name: "Seventh retry - capped", attemptNumber: 6, expectedDelay: 30 * time.Second}, // 32s capped
		{name: "Large attempt number - still capped", attemptNumber: 10000, expectedDelay: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedDelay, strategy.CalculateRetryDelay(tt.attemptNumber))
		})
	}
}

func TestStrategy_CalculateRetryDelay_CustomStrategy(t *testing.T) {
	strategy := Strategy{
		MaxAttempts:     5,
		BaseDelay:       1 * time.Second,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 3.0,
	}

	tests := []struct {
		attemptNumber int
		expectedDelay time.Duration
	}{
		{0, 1 * time.Second},
		{1, 3 * time.Second},
		{2, 9 * time.Second},
		{3, 10 * time.Second}, // 27s capped
		{4, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expectedDelay, strategy.CalculateRetryDelay(tt.attemptNumber))
	}
}

func TestStrategy_IsRetryable(t *testing.T) {
	bounded := Strategy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Second, ExponentialBase: 2}

	assert.True(t, bounded.IsRetryable(0))
	assert.True(t, bounded.IsRetryable(2))
	assert.False(t, bounded.IsRetryable(3))
	assert.False(t, bounded.IsRetryable(10))

	unbounded := DefaultStrategy()
	assert.True(t, unbounded.IsRetryable(1_000_000))
}

func TestStrategy_Validate(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		wantErr  bool
	}{
		{name: "default", strategy: DefaultStrategy()},
		{name: "zero base", strategy: Strategy{BaseDelay: 0, MaxDelay: time.Second, ExponentialBase: 2}, wantErr: true},
		{name: "max below base", strategy: Strategy{BaseDelay: time.Second, MaxDelay: time.Millisecond, ExponentialBase: 2}, wantErr: true},
		{name: "shrinking base", strategy: Strategy{BaseDelay: time.Second, MaxDelay: time.Second, ExponentialBase: 0.5}, wantErr: true},
		{name: "negative attempts", strategy: Strategy{MaxAttempts: -1, BaseDelay: time.Second, MaxDelay: time.Second, ExponentialBase: 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.strategy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStrategy_GetRetrySchedule(t *testing.T) {
	strategy := Strategy{
		MaxAttempts:     3,
		BaseDelay:       10 * time.Second,
		MaxDelay:        2 * time.Minute,
		ExponentialBase: 2.0,
	}

	schedule := strategy.GetRetrySchedule(5)

	assert.Contains(t, schedule, "Retry Schedule:")
	assert.Contains(t, schedule, "Attempt 1: after 10s")
	assert.Contains(t, schedule, "Attempt 2: after 20s")
	assert.Contains(t, schedule, "Attempt 3: after 40s")
	assert.NotContains(t, schedule, "Attempt 4")
	assert.Contains(t, schedule, "→ Give up")

	lines := strings.Split(strings.TrimSpace(schedule), "\n")
	assert.Len(t, lines, 5)
}

func TestStrategy_BoundaryValues(t *testing.T) {
	t.Run("Exponential base of 1", func(t *testing.T) {
		strategy := Strategy{
			BaseDelay:       30 * time.Second,
			ExponentialBase: 1.0,
			MaxDelay:        1 * time.Minute,
		}

		assert.Equal(t, strategy.CalculateRetryDelay(1), strategy.CalculateRetryDelay(5))
	})

	t.Run("Max delay equals base delay", func(t *testing.T) {
		strategy := Strategy{
			BaseDelay:       30 * time.Second,
			ExponentialBase: 2.0,
			MaxDelay:        30 * time.Second,
		}

		assert.Equal(t, 30*time.Second, strategy.CalculateRetryDelay(1))
	})
}

func BenchmarkCalculateRetryDelay(b *testing.B) {
	strategy := DefaultStrategy()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = strategy.CalculateRetryDelay(i % 10)
	}
}
