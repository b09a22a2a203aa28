package invalidator

import (
	"sync"
	"time"
)

// tokenBucket is a minimal in-process token bucket used to shape the
// optional rate_limit_per_second cap on invalidate_pattern.
type tokenBucket struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(ratePerSecond float64) *tokenBucket {
	return &tokenBucket{
		rate:       ratePerSecond,
		capacity:   ratePerSecond,
		tokens:     ratePerSecond,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available and reports whether it did.
func (b *tokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
