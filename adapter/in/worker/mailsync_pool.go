package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// ErrPoolStopped is passed to the dead letter hook for retries that fire after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers        int           // concurrent sync runs
	QueueSize      int           // queued plus running jobs before Submit refuses
	JobTimeout     time.Duration // upper bound for one attempt
	MaxRetries     int           // attempts after the first
	RetryBaseDelay time.Duration // backoff is base * 2^retries plus jitter
	WorkerChanSize int
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        4,
		QueueSize:      100,
		JobTimeout:     30 * time.Minute,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		WorkerChanSize: 16,
	}
}

// DeadLetterFunc receives jobs that exhausted their retries or failed permanently.
type DeadLetterFunc func(ctx context.Context, msg *Message, err error)

// PoolMetrics holds pool metrics.
type PoolMetrics struct {
	JobsProcessed    int64 `json:"jobs_processed"`
	JobsFailed       int64 `json:"jobs_failed"`
	JobsRejected     int64 `json:"jobs_rejected"`
	JobsRetried      int64 `json:"jobs_retried"`
	JobsDeadLettered int64 `json:"jobs_dead_lettered"`
	AvgProcessTime   int64 `json:"avg_process_ms"`
	Workers          int   `json:"workers"`
	InFlight         int64 `json:"in_flight"`
}

// Pool runs sync jobs on a go-pkgz/pool worker group.
type Pool struct {
	processor Processor
	config    *PoolConfig
	group     *pool.WorkerGroup[*Message]

	ctx    context.Context
	cancel context.CancelFunc

	deadLetter DeadLetterFunc
	log        zerolog.Logger

	processed    atomic.Int64
	failed       atomic.Int64
	rejected     atomic.Int64
	retried      atomic.Int64
	deadLettered atomic.Int64
	avgMs        atomic.Int64
	inFlight     atomic.Int64

	started bool
	mu      sync.Mutex
}

type messageWorker struct {
	pool *Pool
}

// Do implements pool.Worker.
func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

func NewPool(processor Processor, config *PoolConfig, log zerolog.Logger) *Pool {
	def := DefaultPoolConfig()
	if config == nil {
		config = def
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = def.RetryBaseDelay
	}
	if config.WorkerChanSize <= 0 {
		config.WorkerChanSize = def.WorkerChanSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		processor: processor,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		log:       log.With().Str("component", "worker_pool").Logger(),
	}
	p.deadLetter = p.logDeadLetter
	return p
}

// SetDeadLetter replaces the default logging dead letter hook.
func (p *Pool) SetDeadLetter(fn DeadLetterFunc) {
	if fn != nil {
		p.deadLetter = fn
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	// batch size 1: a lone sync job must not wait for the batch to fill
	p.group = pool.New[*Message](p.config.Workers, &messageWorker{pool: p}).
		WithBatchSize(1).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.group.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start worker pool")
		return
	}
	p.started = true

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("queue_size", p.config.QueueSize).
		Dur("job_timeout", p.config.JobTimeout).
		Msg("worker pool started")
}

// Stop waits for queued jobs, up to the given grace period.
func (p *Pool) Stop(grace time.Duration) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	group := p.group
	p.mu.Unlock()

	p.log.Info().Msg("stopping worker pool...")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), grace)
	defer closeCancel()
	if err := group.Close(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn().Err(err).Msg("error closing worker pool")
	}
	p.cancel()

	p.log.Info().
		Int64("processed", p.processed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("worker pool stopped")
}

// Submit queues a job. It returns false when the pool is stopped or full,
// leaving the caller to redeliver.
func (p *Pool) Submit(msg *Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return false
	}
	if p.inFlight.Load() >= int64(p.config.QueueSize) {
		p.rejected.Add(1)
		p.log.Warn().
			Str("job_id", msg.ID).
			Str("job_type", msg.Type).
			Msg("job rejected, pool at capacity")
		return false
	}
	p.inFlight.Add(1)
	p.group.Submit(msg)
	return true
}

// resubmit bypasses the capacity check; the job already held a slot.
func (p *Pool) resubmit(msg *Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		p.deadLettered.Add(1)
		p.deadLetter(context.Background(), msg, ErrPoolStopped)
		return
	}
	p.inFlight.Add(1)
	p.group.Submit(msg)
}

func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	start := time.Now()
	defer p.inFlight.Add(-1)

	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	err := p.processor.Process(jobCtx, msg)
	if err == nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = context.DeadlineExceeded
	}
	p.updateAvgProcessTime(time.Since(start).Milliseconds())

	if err == nil {
		p.processed.Add(1)
		return nil
	}

	p.failed.Add(1)
	p.log.Error().
		Err(err).
		Str("job_id", msg.ID).
		Str("job_type", msg.Type).
		Int("retries", msg.Retries).
		Msg("job processing failed")

	if IsRetryable(err) && msg.Retries < p.config.MaxRetries {
		msg.Retries++
		p.retried.Add(1)

		base := p.config.RetryBaseDelay * time.Duration(1<<msg.Retries)
		jitter := time.Duration(rand.Int63n(int64(p.config.RetryBaseDelay)/2 + 1))
		time.AfterFunc(base+jitter, func() { p.resubmit(msg) })
		return err
	}

	p.deadLettered.Add(1)
	p.deadLetter(context.WithoutCancel(ctx), msg, err)
	return err
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := p.avgMs.Load()
	if current == 0 {
		p.avgMs.Store(elapsed)
		return
	}
	p.avgMs.Store((current*9 + elapsed) / 10)
}

func (p *Pool) logDeadLetter(_ context.Context, msg *Message, err error) {
	p.log.Error().
		Err(err).
		Str("job_id", msg.ID).
		Str("job_type", msg.Type).
		Int("retries", msg.Retries).
		Msg("DLQ: job permanently failed")
}

func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:    p.processed.Load(),
		JobsFailed:       p.failed.Load(),
		JobsRejected:     p.rejected.Load(),
		JobsRetried:      p.retried.Load(),
		JobsDeadLettered: p.deadLettered.Load(),
		AvgProcessTime:   p.avgMs.Load(),
		Workers:          p.config.Workers,
		InFlight:         p.inFlight.Load(),
	}
}
