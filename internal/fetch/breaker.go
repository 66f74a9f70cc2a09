package fetch

import (
	"sync"
	"time"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 5 * time.Minute
)

// Breaker is a per-host circuit breaker counting consecutive failures.
// After threshold failures it opens and rejects calls; after the
// cooldown it lets a single probe through (half-open). One success
// closes it, a failure re-opens it.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	probing     bool

	threshold int
	cooldown  time.Duration
}

// NewBreaker returns a breaker with the default threshold and cooldown.
func NewBreaker() *Breaker {
	return &Breaker{threshold: breakerThreshold, cooldown: breakerCooldown}
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return true
	}
	if time.Since(b.lastFailure) >= b.cooldown {
		// Half-open: admit one probe at a time.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a consecutive failure and re-opens a half-open
// breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	b.probing = false
}

// Open reports whether the breaker currently rejects requests.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return false
	}
	return time.Since(b.lastFailure) < b.cooldown
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
