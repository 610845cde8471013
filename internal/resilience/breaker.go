package resilience

import (
	"sync"
	"time"
)

// BreakerState is the per-entity circuit state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig holds circuit breaker tuning
type BreakerConfig struct {
	FailureThreshold         int
	Cooldown                 time.Duration
	HalfOpenSuccessThreshold int
}

// DefaultBreakerConfig returns the standard thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:         3,
		Cooldown:                 60 * time.Second,
		HalfOpenSuccessThreshold: 2,
	}
}

type entityState struct {
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// Breaker isolates failing entities. One instance serves both the
// single-entity case (empty entity key) and the keyed multi-entity case.
// All methods are safe for concurrent use; no I/O is performed.
type Breaker struct {
	mu       sync.Mutex
	config   BreakerConfig
	entities map[string]*entityState
	now      func() time.Time
}

// NewBreaker creates a breaker with the given config. Zero values fall back
// to the defaults.
func NewBreaker(config BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.HalfOpenSuccessThreshold <= 0 {
		config.HalfOpenSuccessThreshold = def.HalfOpenSuccessThreshold
	}
	return &Breaker{
		config:   config,
		entities: make(map[string]*entityState),
		now:      time.Now,
	}
}

func (b *Breaker) entity(name string) *entityState {
	es, ok := b.entities[name]
	if !ok {
		es = &entityState{state: StateClosed}
		b.entities[name] = es
	}
	return es
}

// CanProceed reports whether calls to the entity are allowed. An OPEN
// entity whose cooldown has elapsed transitions to HALF_OPEN here.
func (b *Breaker) CanProceed(entity string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	es := b.entity(entity)
	switch es.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(es.openedAt) >= b.config.Cooldown {
			es.state = StateHalfOpen
			es.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess notes a successful call. In HALF_OPEN enough successes
// close the circuit; in CLOSED the failure count resets.
func (b *Breaker) RecordSuccess(entity string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	es := b.entity(entity)
	switch es.state {
	case StateHalfOpen:
		es.successes++
		if es.successes >= b.config.HalfOpenSuccessThreshold {
			es.state = StateClosed
			es.failures = 0
			es.successes = 0
		}
	case StateClosed:
		es.failures = 0
	}
}

// RecordFailure notes a failed call and reports whether the circuit just
// opened. A failure in HALF_OPEN reopens immediately.
func (b *Breaker) RecordFailure(entity string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	es := b.entity(entity)
	switch es.state {
	case StateHalfOpen:
		es.state = StateOpen
		es.openedAt = b.now()
		es.successes = 0
		return true
	case StateOpen:
		return false
	default:
		es.failures++
		if es.failures >= b.config.FailureThreshold {
			es.state = StateOpen
			es.openedAt = b.now()
			return true
		}
		return false
	}
}

// FilterAvailable returns the subset of entities that can currently proceed.
func (b *Breaker) FilterAvailable(entities []string) []string {
	available := make([]string, 0, len(entities))
	for _, e := range entities {
		if b.CanProceed(e) {
			available = append(available, e)
		}
	}
	return available
}

// State returns the entity's current state without side effects.
func (b *Breaker) State(entity string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	es, ok := b.entities[entity]
	if !ok {
		return StateClosed
	}
	return es.state
}

// Failures returns the entity's current failure count.
func (b *Breaker) Failures(entity string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	es, ok := b.entities[entity]
	if !ok {
		return 0
	}
	return es.failures
}

// Snapshot captures failures and open-circuit ages for persistence across
// restarts.
type Snapshot struct {
	Failures     map[string]int     `json:"failures"`
	OpenCircuits map[string]float64 `json:"open_circuits"` // entity -> open age seconds
}

// Snapshot serializes the breaker's durable state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Failures:     make(map[string]int),
		OpenCircuits: make(map[string]float64),
	}
	now := b.now()
	for name, es := range b.entities {
		if es.failures > 0 {
			snap.Failures[name] = es.failures
		}
		if es.state == StateOpen {
			snap.OpenCircuits[name] = now.Sub(es.openedAt).Seconds()
		}
	}
	return snap
}

// Restore loads a snapshot. Open circuits whose age already exceeds the
// cooldown are dropped rather than restored.
func (b *Breaker) Restore(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, failures := range snap.Failures {
		es := b.entity(name)
		es.failures = failures
	}
	now := b.now()
	for name, ageSeconds := range snap.OpenCircuits {
		age := time.Duration(ageSeconds * float64(time.Second))
		if age >= b.config.Cooldown {
			continue
		}
		es := b.entity(name)
		es.state = StateOpen
		es.openedAt = now.Add(-age)
	}
}

// Reset clears all entity state. Used by tests and process quiesce.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entities = make(map[string]*entityState)
}
