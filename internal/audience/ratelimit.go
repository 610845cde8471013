package audience

import (
	"sync"
	"time"
)

const (
	// DefaultRatePerMinute refills each client's bucket.
	DefaultRatePerMinute = 10.0

	// DefaultBurst is the bucket capacity.
	DefaultBurst = 5

	// bucketTTL evicts buckets idle longer than this.
	bucketTTL = 3600 * time.Second

	// sweepEvery runs the TTL sweep once per this many accesses.
	sweepEvery = 100
)

// TokenBucket is a monotonic-refill token bucket. Not safe for concurrent
// use on its own; ClientLimiter serializes access.
type TokenBucket struct {
	tokens        float64
	capacity      float64
	ratePerMinute float64
	lastRefill    time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(ratePerMinute float64, burst int) *TokenBucket {
	if ratePerMinute <= 0 {
		ratePerMinute = DefaultRatePerMinute
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &TokenBucket{
		tokens:        float64(burst),
		capacity:      float64(burst),
		ratePerMinute: ratePerMinute,
		lastRefill:    time.Now(),
	}
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Minutes()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.ratePerMinute
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// allowAt consumes one token if available at the given instant.
func (b *TokenBucket) allowAt(now time.Time) bool {
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	return b.allowAt(time.Now())
}

type bucketEntry struct {
	bucket     *TokenBucket
	lastAccess time.Time
}

// ClientLimiter holds one token bucket per client id, evicting buckets idle
// past the TTL on a periodic sweep.
type ClientLimiter struct {
	mu            sync.Mutex
	buckets       map[string]*bucketEntry
	ratePerMinute float64
	burst         int
	accesses      int
	now           func() time.Time
}

// NewClientLimiter creates a limiter with the given per-client parameters.
func NewClientLimiter(ratePerMinute float64, burst int) *ClientLimiter {
	if ratePerMinute <= 0 {
		ratePerMinute = DefaultRatePerMinute
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &ClientLimiter{
		buckets:       make(map[string]*bucketEntry),
		ratePerMinute: ratePerMinute,
		burst:         burst,
		now:           time.Now,
	}
}

// Allow consumes one token for the client, creating its bucket on first
// sight. Every sweepEvery accesses, stale buckets are evicted.
func (l *ClientLimiter) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.accesses++
	if l.accesses%sweepEvery == 0 {
		l.sweepLocked(now)
	}

	entry, ok := l.buckets[clientID]
	if !ok {
		entry = &bucketEntry{bucket: NewTokenBucket(l.ratePerMinute, l.burst)}
		entry.bucket.lastRefill = now
		l.buckets[clientID] = entry
	}
	entry.lastAccess = now
	return entry.bucket.allowAt(now)
}

func (l *ClientLimiter) sweepLocked(now time.Time) {
	for id, entry := range l.buckets {
		if now.Sub(entry.lastAccess) >= bucketTTL {
			delete(l.buckets, id)
		}
	}
}

// Forget drops a client's bucket, used when its connection closes.
func (l *ClientLimiter) Forget(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, clientID)
}

// Size returns the number of tracked clients.
func (l *ClientLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
