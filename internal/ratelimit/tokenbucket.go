// Package ratelimit provides the token-bucket limiter shared by Provider
// Adapters and Broker Adapters (§4.A, §4.J, §5).
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a simple token-bucket limiter: capacity tokens available
// immediately, refilled continuously at refillPerSec.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	last       time.Time
}

// New creates a token bucket with the given capacity and refill rate
// (tokens per second).
func New(capacity int, refillPerSec float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPerSec <= 0 {
		refillPerSec = 1
	}
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillPerSec,
		last:       time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		d, ok := b.tryTake()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

func (b *TokenBucket) tryTake() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}

	deficit := 1 - b.tokens
	wait := time.Duration(deficit/b.refillRate*1000) * time.Millisecond
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}
