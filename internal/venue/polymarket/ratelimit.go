package polymarket

import (
	"context"
	"sync"
	"time"
)

// tokenBucket is a continuously-refilling token-bucket rate limiter. Wait
// blocks until a token is available or ctx is cancelled, rather than
// bursting in fixed windows.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

func newTokenBucket(capacity, ratePerSecond float64) *tokenBucket {
	return &tokenBucket{tokens: capacity, capacity: capacity, rate: ratePerSecond, lastTime: time.Now()}
}

func (tb *tokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		tb.tokens += now.Sub(tb.lastTime).Seconds() * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// rateLimiter groups token buckets by CLOB endpoint category, tuned to
// Polymarket's published per-10-second limits with a smooth per-second refill.
type rateLimiter struct {
	order  *tokenBucket // POST /orders
	cancel *tokenBucket // DELETE /orders, /cancel-all
	book   *tokenBucket // GET /book, GET /trades
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		order:  newTokenBucket(350, 50), // burst 350, refills 50/s
		cancel: newTokenBucket(300, 30), // burst 300, refills 30/s
		book:   newTokenBucket(150, 15), // burst 150, refills 15/s
	}
}
