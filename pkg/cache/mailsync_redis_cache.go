// Package cache holds per-mailbox coordination state in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailsync_server/core/domain"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix   = "mailsync:lock:"
	resultKeyPrefix = "mailsync:result:"
)

// ErrLockHeld is returned when another run holds the mailbox lock.
var ErrLockHeld = errors.New("mailbox lock held")

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the subset of *redis.Client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisCache provides a per-mailbox lock and the last result per mailbox.
type RedisCache struct {
	client    Client
	lockTTL   time.Duration
	resultTTL time.Duration
}

func NewRedisCache(client Client, lockTTL, resultTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, lockTTL: lockTTL, resultTTL: resultTTL}
}

// Lock takes the mailbox lock. The returned func releases it and is safe
// to call after the lock expired.
func (c *RedisCache) Lock(ctx context.Context, address string) (func(context.Context) error, error) {
	key := lockKeyPrefix + strings.ToLower(address)
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, c.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func(ctx context.Context) error {
		if err := c.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

// LastResult is the cached outcome of the latest run for a mailbox.
type LastResult struct {
	JobID      string             `json:"jobId"`
	Status     domain.RunStatus   `json:"status"`
	ErrorCode  string             `json:"errorCode,omitempty"`
	Result     *domain.SyncResult `json:"result,omitempty"`
	Throughput *float64           `json:"throughput,omitempty"`
	FinishedAt time.Time          `json:"finishedAt"`
}

func (c *RedisCache) SetLastResult(ctx context.Context, address string, res *LastResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, resultKeyPrefix+strings.ToLower(address), data, c.resultTTL).Err()
}

// GetLastResult returns nil without error when nothing is cached.
func (c *RedisCache) GetLastResult(ctx context.Context, address string) (*LastResult, error) {
	data, err := c.client.Get(ctx, resultKeyPrefix+strings.ToLower(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var res LastResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
