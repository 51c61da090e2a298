package appfoliosync

import (
	"context"
	"testing"
	"time"
)

func newTestLimiter(limit int) (*RateLimiter, *time.Time) {
	l := NewRateLimiter(nil, "test", limit)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return l, &now
}

func TestRateLimiterRemainingDoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if got := l.Remaining(ctx); got != 3 {
			t.Fatalf("Remaining() = %d, expected 3", got)
		}
	}
}

func TestRateLimiterAcquireConsumesBudget(t *testing.T) {
	l, _ := newTestLimiter(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
	}
	if got := l.Remaining(ctx); got != 0 {
		t.Fatalf("Remaining() = %d, expected 0", got)
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	l, now := newTestLimiter(2)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if got := l.Remaining(ctx); got != 0 {
		t.Fatalf("Remaining() = %d, expected 0", got)
	}

	*now = now.Add(61 * time.Second)
	if got := l.Remaining(ctx); got != 2 {
		t.Fatalf("Remaining() after window = %d, expected 2", got)
	}
}

func TestRateLimiterAcquireBlocksUntilWindowFrees(t *testing.T) {
	l, now := newTestLimiter(1)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	// the sleep stub advances time instead of waiting
	l.sleep = func(ctx context.Context, d time.Duration) error {
		*now = now.Add(d)
		return nil
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() after window error: %v", err)
	}
}

func TestRateLimiterAcquireHonorsContext(t *testing.T) {
	l, _ := newTestLimiter(1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	cancel()
	l.sleep = sleepCtx
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("Acquire() on canceled context expected error")
	}
}

func TestRateLimiterDefaultLimit(t *testing.T) {
	l := NewRateLimiter(nil, "test", 0)
	if l.Limit() != 60 {
		t.Fatalf("Limit() = %d, expected 60", l.Limit())
	}
}
