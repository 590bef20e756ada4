package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mailsync_server/adapter/in/worker"
	"mailsync_server/adapter/out/messaging"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	consumerGroup   = "mailsync-workers"
	poolStopGrace   = 30 * time.Second
	submitRetryWait = 500 * time.Millisecond
)

type Worker struct {
	pool     *worker.Pool
	consumer *messaging.Consumer
	deps     *Dependencies
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	zlog     zerolog.Logger
}

// NewWorker wires the Redis stream consumer to the sync worker pool.
func NewWorker(deps *Dependencies) (*Worker, error) {
	if deps.Redis == nil {
		return nil, errors.New("worker mode requires REDIS_URL")
	}
	cfg := deps.Config
	zlog := logger.Component("worker")

	handler := worker.NewHandler(worker.NewSyncProcessor(deps.SyncService, deps.Sealer, deps.State))

	pool := worker.NewPool(handler, &worker.PoolConfig{
		Workers:    cfg.WorkerMax,
		QueueSize:  cfg.WorkerQueueSize,
		JobTimeout: cfg.WorkerJobTimeout,
		MaxRetries: 3,
	}, zlog)
	pool.SetDeadLetter(func(ctx context.Context, msg *worker.Message, err error) {
		reason := fmt.Sprintf("%s: %v", apperr.CodeOf(err), err)
		if dlqErr := deps.Producer.DeadLetter(ctx, messaging.StreamMailSync, msg.Payload, reason); dlqErr != nil {
			zlog.Error().Err(dlqErr).Str("job_id", msg.ID).Msg("failed to dead-letter job")
			return
		}
		zlog.Warn().Str("job_id", msg.ID).Int("retries", msg.Retries).Msg("job moved to DLQ")
	})

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
		Group:                consumerGroup,
		Consumer:             cfg.WorkerID,
		Streams:              []string{messaging.StreamMailSync},
		Handler:              &streamHandler{pool: pool},
		Logger:               zlog,
		BatchSize:            cfg.ConsumerBatchSize,
		Block:                time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
		PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
		PendingIdleTime:      cfg.WorkerJobTimeout + 5*time.Minute,
		MaxRetries:           cfg.ConsumerMaxRetries,
	})
	return w, nil
}

// streamHandler adapts stream entries to pool jobs. A full pool blocks
// the consumer instead of dropping the entry.
type streamHandler struct {
	pool *worker.Pool
}

func (h *streamHandler) Handle(ctx context.Context, stream string, data []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	msg := worker.NewMessage(streamToJobType(stream), payload)
	if id, ok := payload["job_id"].(string); ok && id != "" {
		msg.ID = id
	}

	for !h.pool.Submit(msg) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(submitRetryWait):
		}
	}
	logger.WithField("job_id", msg.ID).Debug("[StreamHandler] job submitted to pool: %s", msg.Type)
	return nil
}

func streamToJobType(stream string) string {
	switch stream {
	case messaging.StreamMailSync:
		return worker.JobMailSync
	default:
		return stream
	}
}

// Start blocks until Stop is called.
func (w *Worker) Start() {
	w.pool.Start()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.zlog.Info().Msg("Starting Redis Stream Consumer...")
		if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
		}
	}()

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	w.pool.Stop(poolStopGrace)
}

func (w *Worker) Submit(msg *worker.Message) bool {
	return w.pool.Submit(msg)
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}
