package resilience

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// PolicyConfig holds retry tuning.
type PolicyConfig struct {
	Base        time.Duration
	Cap         time.Duration
	Jitter      float64
	MaxAttempts int
	Seed        int64 // non-zero pins the jitter RNG for deterministic tests
}

// DefaultPolicyConfig returns the standard backoff parameters.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Base:        1 * time.Second,
		Cap:         30 * time.Second,
		Jitter:      0.3,
		MaxAttempts: 3,
	}
}

// Policy computes retry delays: exponential backoff with symmetric jitter
// and a hard floor of 100ms.
type Policy struct {
	base        time.Duration
	cap         time.Duration
	jitter      float64
	maxAttempts int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPolicy creates a retry policy. Zero config values fall back to the
// defaults.
func NewPolicy(config PolicyConfig) *Policy {
	def := DefaultPolicyConfig()
	if config.Base <= 0 {
		config.Base = def.Base
	}
	if config.Cap <= 0 {
		config.Cap = def.Cap
	}
	if config.Jitter < 0 {
		config.Jitter = def.Jitter
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Policy{
		base:        config.Base,
		cap:         config.Cap,
		jitter:      config.Jitter,
		maxAttempts: config.MaxAttempts,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// MaxAttempts returns the configured attempt budget.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// Delay returns the wait before retrying the given 0-indexed attempt:
// max(100ms, min(base*2^attempt, cap) * (1 + U(-jitter, jitter))).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := float64(p.base) * math.Pow(2, float64(attempt))
	if backoff > float64(p.cap) {
		backoff = float64(p.cap)
	}

	p.mu.Lock()
	u := p.rng.Float64()*2 - 1 // U(-1, 1)
	p.mu.Unlock()

	delay := backoff + backoff*p.jitter*u
	if delay < float64(100*time.Millisecond) {
		delay = float64(100 * time.Millisecond)
	}
	return time.Duration(delay)
}

// RetryAfterDelay honours a server-provided wait, adding a small random
// spread (up to 10%) so synchronized clients do not stampede. The result is
// bounded at twice the policy cap.
func (p *Policy) RetryAfterDelay(retryAfter time.Duration, attempt int) time.Duration {
	if retryAfter <= 0 {
		return p.Delay(attempt)
	}

	p.mu.Lock()
	spread := p.rng.Float64()
	p.mu.Unlock()

	wait := retryAfter + time.Duration(float64(retryAfter)*0.1*spread)
	if limit := 2 * p.cap; wait > limit {
		wait = limit
	}
	return wait
}

// Wait sleeps for d or until the context is done, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
