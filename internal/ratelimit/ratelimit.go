// Package ratelimit implements a per-client token bucket limiter for the
// preview API. Thread-safe, no background goroutines: refills happen
// lazily on Allow and stale buckets are pruned opportunistically.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a client has exhausted its bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// staleAfter is how long an untouched bucket lives before pruning.
const staleAfter = 10 * time.Minute

// Config configures the token bucket limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Maximum tokens in a bucket. 0 = defaults to RequestsPerMinute.
}

// Limiter tracks one independent bucket per client key. Callers key by
// whatever identity the gateway authenticated (user ID or remote address);
// one client cannot exhaust another's quota.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64 // max bucket capacity

	lastPrune time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLimiter creates a limiter from cfg. A zero RequestsPerMinute makes
// Allow always succeed.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1 // safety floor
	}
	return &Limiter{
		buckets:   make(map[string]*bucket),
		rate:      float64(cfg.RequestsPerMinute) / 60.0,
		burst:     float64(burst),
		lastPrune: time.Now(),
	}
}

// Allow consumes one token from the client's bucket. Returns
// ErrRateLimited when the bucket is empty.
func (l *Limiter) Allow(key string) error {
	// Unlimited mode.
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.pruneLocked(now)

	b, ok := l.buckets[key]
	if !ok {
		// First request starts with a full bucket.
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastFill = now

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// Remaining reports the whole tokens left in a client's bucket without
// consuming any. Used for rate limit response headers.
func (l *Limiter) Remaining(key string) int {
	if l.rate <= 0 {
		return int(l.burst)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return int(l.burst)
	}
	tokens := b.tokens + time.Since(b.lastFill).Seconds()*l.rate
	if tokens > l.burst {
		tokens = l.burst
	}
	return int(tokens)
}

// pruneLocked drops buckets idle past staleAfter. Runs at most once per
// prune window so hot paths pay for it rarely. Caller holds l.mu.
func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < staleAfter {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) > staleAfter {
			delete(l.buckets, key)
		}
	}
	l.lastPrune = now
}
