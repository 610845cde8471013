package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayDeterministicWithSeed(t *testing.T) {
	p1 := NewPolicy(PolicyConfig{Seed: 42})
	p2 := NewPolicy(PolicyConfig{Seed: 42})

	for attempt := 0; attempt < 6; attempt++ {
		assert.Equal(t, p1.Delay(attempt), p2.Delay(attempt), "attempt %d", attempt)
	}
}

func TestDelayBounds(t *testing.T) {
	p := NewPolicy(PolicyConfig{
		Base:   time.Second,
		Cap:    30 * time.Second,
		Jitter: 0.3,
		Seed:   7,
	})

	testCases := []struct {
		name    string
		attempt int
		max     time.Duration
	}{
		{name: "Attempt 0", attempt: 0, max: 1300 * time.Millisecond},
		{name: "Attempt 1", attempt: 1, max: 2600 * time.Millisecond},
		{name: "Attempt 2", attempt: 2, max: 5200 * time.Millisecond},
		{name: "Attempt 10 capped", attempt: 10, max: 39 * time.Second},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				d := p.Delay(tc.attempt)
				assert.GreaterOrEqual(t, d, 100*time.Millisecond)
				assert.LessOrEqual(t, d, tc.max)
			}
		})
	}
}

func TestDelayFloor(t *testing.T) {
	p := NewPolicy(PolicyConfig{Base: time.Millisecond, Cap: time.Millisecond, Seed: 1})
	for i := 0; i < 20; i++ {
		assert.GreaterOrEqual(t, p.Delay(0), 100*time.Millisecond)
	}
}

func TestRetryAfterDelay(t *testing.T) {
	p := NewPolicy(PolicyConfig{Cap: 30 * time.Second, Seed: 3})

	for i := 0; i < 50; i++ {
		d := p.RetryAfterDelay(5*time.Second, 0)
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.LessOrEqual(t, d, 5500*time.Millisecond)
	}
}

func TestRetryAfterDelayBounded(t *testing.T) {
	p := NewPolicy(PolicyConfig{Cap: 10 * time.Second, Seed: 3})

	d := p.RetryAfterDelay(10*time.Minute, 0)
	assert.LessOrEqual(t, d, 20*time.Second)
}

func TestRetryAfterDelayFallsBackToBackoff(t *testing.T) {
	p := NewPolicy(PolicyConfig{Seed: 9})
	d := p.RetryAfterDelay(0, 1)
	assert.Greater(t, d, time.Duration(0))
}

func TestWaitContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Wait(ctx, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitCompletes(t *testing.T) {
	start := time.Now()
	err := Wait(context.Background(), 10*time.Millisecond)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
