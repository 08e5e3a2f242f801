package builtin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimit allows at most Max submissions per key within Window.
type RateLimit struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// Limiter records a hit for key and reports whether it is within the limit.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is a per-process sliding window limiter. Keys whose hits
// have all left the window are swept at most once per window.
type MemoryLimiter struct {
	limit RateLimit
	now   func() time.Time

	mu        sync.Mutex
	windows   map[string][]time.Time
	lastSweep time.Time
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(limit RateLimit) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	cutoff := now.Add(-l.limit.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.limit.Window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	hits := trimBefore(l.windows[key], cutoff)
	if len(hits) >= l.limit.Max {
		l.windows[key] = hits
		return false, nil
	}
	l.windows[key] = append(hits, now)
	return true, nil
}

// sweep drops keys with no hits after cutoff. Callers hold l.mu.
func (l *MemoryLimiter) sweep(cutoff time.Time) {
	for key, hits := range l.windows {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.windows, key)
		}
	}
}

// trimBefore keeps the hits after cutoff. Hits are in time order.
func trimBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == len(hits) {
		return hits[:0]
	}
	return hits[i:]
}

// Keys returns how many clients currently hold a window.
func (l *MemoryLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Reset clears all windows.
func (l *MemoryLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string][]time.Time)
}

// slidingWindowScript trims the sorted set to the window, then adds the hit
// only when the count is below the limit. Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
if redis.call('ZCARD', key) >= max then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisLimiter is a sliding window limiter shared through Redis.
type RedisLimiter struct {
	client redis.Scripter
	limit  RateLimit
	prefix string
}

// NewRedisLimiter creates a limiter storing windows under prefix.
func NewRedisLimiter(client redis.Scripter, limit RateLimit, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		now, l.limit.Window.Milliseconds(), l.limit.Max, uuid.NewString(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return res == 1, nil
}
