package appfoliosync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces the external API's request budget: at most limit
// requests per rolling window. The budget is shared across worker processes
// through a redis sorted set of request timestamps; when redis is not
// available it degrades to an in-process window, which still protects a
// single worker from over-running the limit.
type RateLimiter struct {
	rdb    *redis.Client
	key    string
	limit  int
	window time.Duration

	mu    sync.Mutex
	local []time.Time

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(rdb *redis.Client, key string, limit int) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	return &RateLimiter{
		rdb:    rdb,
		key:    key,
		limit:  limit,
		window: time.Minute,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Limit returns the configured budget per window.
func (l *RateLimiter) Limit() int { return l.limit }

// Remaining returns the current budget without consuming any of it.
func (l *RateLimiter) Remaining(ctx context.Context) int {
	now := l.now()
	if l.rdb != nil {
		cutoff := now.Add(-l.window).UnixNano()
		count, err := l.rdb.ZCount(ctx, l.key, fmt.Sprintf("%d", cutoff), "+inf").Result()
		if err == nil {
			rem := l.limit - int(count)
			if rem < 0 {
				rem = 0
			}
			return rem
		}
		// fall through to the local window on redis errors
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)
	rem := l.limit - len(l.local)
	if rem < 0 {
		rem = 0
	}
	return rem
}

// Acquire consumes one slot, blocking until budget is available or the
// context is done.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	for {
		ok, wait, err := l.reserve(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *RateLimiter) reserve(ctx context.Context) (bool, time.Duration, error) {
	now := l.now()

	if l.rdb != nil {
		cutoff := now.Add(-l.window).UnixNano()
		pipe := l.rdb.Pipeline()
		pipe.ZRemRangeByScore(ctx, l.key, "0", fmt.Sprintf("%d", cutoff))
		countCmd := pipe.ZCard(ctx, l.key)
		if _, err := pipe.Exec(ctx); err == nil {
			if int(countCmd.Val()) < l.limit {
				member := redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()}
				addPipe := l.rdb.Pipeline()
				addPipe.ZAdd(ctx, l.key, member)
				addPipe.Expire(ctx, l.key, l.window+time.Second)
				if _, err := addPipe.Exec(ctx); err == nil {
					return true, 0, nil
				}
			}
			wait := l.redisWait(ctx, now)
			return false, wait, nil
		}
		// redis unavailable: use the local window below
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)
	if len(l.local) < l.limit {
		l.local = append(l.local, now)
		return true, 0, nil
	}
	wait := l.local[0].Add(l.window).Sub(now)
	return false, wait, nil
}

// redisWait estimates how long until the oldest in-window entry expires.
func (l *RateLimiter) redisWait(ctx context.Context, now time.Time) time.Duration {
	entries, err := l.rdb.ZRangeWithScores(ctx, l.key, 0, 0).Result()
	if err != nil || len(entries) == 0 {
		return time.Second
	}
	oldest := time.Unix(0, int64(entries[0].Score))
	wait := oldest.Add(l.window).Sub(now)
	if wait < 0 {
		wait = 100 * time.Millisecond
	}
	return wait
}

func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.local[:0]
	for _, t := range l.local {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.local = kept
}
