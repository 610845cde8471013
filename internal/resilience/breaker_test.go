package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3})

	assert.True(t, b.CanProceed("claude"))
	assert.False(t, b.RecordFailure("claude"))
	assert.False(t, b.RecordFailure("claude"))
	assert.True(t, b.CanProceed("claude"))

	// Third failure trips the circuit
	justOpened := b.RecordFailure("claude")
	assert.True(t, justOpened)
	assert.False(t, b.CanProceed("claude"))
	assert.Equal(t, StateOpen, b.State("claude"))
}

func TestBreakerEntitiesAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 2})

	b.RecordFailure("gpt")
	b.RecordFailure("gpt")

	assert.False(t, b.CanProceed("gpt"))
	assert.True(t, b.CanProceed("claude"))
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 60 * time.Second})

	b.RecordFailure("claude")
	assert.False(t, b.CanProceed("claude"))

	*now = now.Add(59 * time.Second)
	assert.False(t, b.CanProceed("claude"))

	*now = now.Add(2 * time.Second)
	assert.True(t, b.CanProceed("claude"))
	assert.Equal(t, StateHalfOpen, b.State("claude"))
}

func TestBreakerHalfOpenSuccessesClose(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{
		FailureThreshold:         1,
		Cooldown:                 time.Second,
		HalfOpenSuccessThreshold: 2,
	})

	b.RecordFailure("claude")
	*now = now.Add(2 * time.Second)
	assert.True(t, b.CanProceed("claude"))

	b.RecordSuccess("claude")
	assert.Equal(t, StateHalfOpen, b.State("claude"))

	b.RecordSuccess("claude")
	assert.Equal(t, StateClosed, b.State("claude"))
	assert.Equal(t, 0, b.Failures("claude"))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})

	b.RecordFailure("claude")
	*now = now.Add(2 * time.Second)
	assert.True(t, b.CanProceed("claude"))

	justOpened := b.RecordFailure("claude")
	assert.True(t, justOpened)
	assert.False(t, b.CanProceed("claude"))
}

func TestBreakerSuccessResetsClosedFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3})

	b.RecordFailure("claude")
	b.RecordFailure("claude")
	b.RecordSuccess("claude")

	// The counter restarted, so two more failures do not open the circuit
	assert.False(t, b.RecordFailure("claude"))
	assert.False(t, b.RecordFailure("claude"))
	assert.True(t, b.CanProceed("claude"))
}

func TestFilterAvailable(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1})

	b.RecordFailure("gpt")

	available := b.FilterAvailable([]string{"claude", "gpt", "gemini"})
	assert.Equal(t, []string{"claude", "gemini"}, available)
}

func TestBreakerSnapshotRoundTrip(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: 60 * time.Second})

	b.RecordFailure("claude")
	b.RecordFailure("claude")
	b.RecordFailure("gpt")
	b.RecordFailure("gpt")
	b.RecordFailure("gpt") // opens

	snap := b.Snapshot()
	assert.Equal(t, 2, snap.Failures["claude"])
	assert.Contains(t, snap.OpenCircuits, "gpt")

	restored, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: 60 * time.Second})
	restored.Restore(snap)

	assert.Equal(t, 2, restored.Failures("claude"))
	assert.False(t, restored.CanProceed("gpt"))
	_ = now
}

func TestBreakerRestoreDropsExpiredCircuits(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 60 * time.Second})

	snap := Snapshot{
		Failures:     map[string]int{},
		OpenCircuits: map[string]float64{"stale": 61, "fresh": 10},
	}
	b.Restore(snap)

	assert.True(t, b.CanProceed("stale"))
	assert.False(t, b.CanProceed("fresh"))
}

func TestBreakerDefaultsApplied(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	assert.Equal(t, 3, b.config.FailureThreshold)
	assert.Equal(t, 60*time.Second, b.config.Cooldown)
	assert.Equal(t, 2, b.config.HalfOpenSuccessThreshold)
}
