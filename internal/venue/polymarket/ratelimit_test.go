package polymarket

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketStartsFull(t *testing.T) {
	t.Parallel()
	tb := newTokenBucket(5, 1)
	if tb.tokens != 5 {
		t.Errorf("tokens = %v, want 5", tb.tokens)
	}
}

func TestTokenBucketWaitImmediateUnderCapacity(t *testing.T) {
	t.Parallel()
	tb := newTokenBucket(5, 1)
	for i := 0; i < 5; i++ {
		start := time.Now()
		if err := tb.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() returned error: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Errorf("Wait() took %v, expected immediate (token %d)", elapsed, i)
		}
	}
}

func TestTokenBucketWaitBlocksOnceExhausted(t *testing.T) {
	t.Parallel()
	tb := newTokenBucket(1, 10) // refills at 10/sec, ~100ms per token
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond || elapsed > 300*time.Millisecond {
		t.Errorf("expected blocking ~100ms, got %v", elapsed)
	}
}

func TestTokenBucketContextCancelled(t *testing.T) {
	t.Parallel()
	tb := newTokenBucket(1, 0.1)
	_ = tb.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); err == nil {
		t.Error("expected context error, got nil")
	}
}

func TestRateLimiterCategoriesAreIndependent(t *testing.T) {
	t.Parallel()
	rl := newRateLimiter()
	// Exhausting the book bucket must not affect order/cancel.
	for i := 0; i < 150; i++ {
		if err := rl.book.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	start := time.Now()
	if err := rl.order.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("order bucket blocked by exhausted book bucket: %v", elapsed)
	}
}
