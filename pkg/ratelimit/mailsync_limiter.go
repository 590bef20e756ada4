// Package ratelimit throttles sync submissions per mailbox.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mailsync:ratelimit:"

// slidingWindowScript records a hit when the window has room. It returns 1
// when allowed, otherwise the negated milliseconds until the oldest hit
// leaves the window.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local max_requests = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

local count = redis.call('ZCARD', key)
if count < max_requests then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window_ms * 2)
	return 1
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if #oldest > 0 then
	return -(oldest[2] + window_ms - now)
end
return 0
`)

// SlidingWindowLimiter allows at most limit hits per key within window.
// Without Redis it falls back to an in-process window.
type SlidingWindowLimiter struct {
	redis  redis.Scripter
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	local map[string][]time.Time
}

func NewSlidingWindowLimiter(client redis.Scripter, limit int, window time.Duration) *SlidingWindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindowLimiter{
		redis:  client,
		limit:  limit,
		window: window,
		now:    time.Now,
		local:  make(map[string][]time.Time),
	}
}

// Allow records a hit for key. When refused it also returns how long the
// caller should wait before the next hit fits. A Redis failure allows the
// hit.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}
	key = strings.ToLower(key)
	if l.redis == nil {
		return l.allowLocal(key)
	}

	now := l.now()
	result, err := slidingWindowScript.Run(ctx, l.redis, []string{keyPrefix + key},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
		fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
	).Int64()
	if err != nil {
		return true, 0
	}

	if result == 1 {
		return true, 0
	}
	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond
	}
	return false, l.window
}

func (l *SlidingWindowLimiter) allowLocal(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	start := now.Add(-l.window)

	hits := l.local[key][:0]
	for _, t := range l.local[key] {
		if t.After(start) {
			hits = append(hits, t)
		}
	}

	if len(hits) >= l.limit {
		l.local[key] = hits
		return false, hits[0].Add(l.window).Sub(now)
	}
	l.local[key] = append(hits, now)
	return true, 0
}
