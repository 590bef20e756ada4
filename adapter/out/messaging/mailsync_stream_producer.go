// Package messaging carries sync jobs over Redis Streams and run events
// over NATS JetStream.
package messaging

import (
	"context"
	"fmt"
	"time"

	"mailsync_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamMailSync   = "mail:sync"
	DeadLetterPrefix = "dlq:"
)

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisProducer implements out.JobQueue using Redis Streams.
type RedisProducer struct {
	client streamAdder
	maxLen int64
}

// NewRedisProducer creates a producer. maxLen caps the stream
// approximately; zero leaves it unbounded.
func NewRedisProducer(client streamAdder, maxLen int64) *RedisProducer {
	return &RedisProducer{client: client, maxLen: maxLen}
}

// EnqueueSync publishes a sync job and returns its stream entry id.
func (p *RedisProducer) EnqueueSync(ctx context.Context, job *out.SyncJob) (string, error) {
	return p.publish(ctx, StreamMailSync, job)
}

// DeadLetter records a job that failed inside the worker after its stream
// entry was acknowledged.
func (p *RedisProducer) DeadLetter(ctx context.Context, stream string, payload any, reason string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	_, err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterPrefix + stream,
		ID:     "*",
		Values: map[string]interface{}{
			"original_stream": stream,
			"data":            string(data),
			"error":           reason,
			"failed_at":       time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to dead-letter to %s: %w", DeadLetterPrefix+stream, err)
	}
	return nil
}

func (p *RedisProducer) publish(ctx context.Context, stream string, job any) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return id, nil
}

var _ out.JobQueue = (*RedisProducer)(nil)
