package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mailsync_server/pkg/apperr"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type scriptedProcessor struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string][]error
	block    chan struct{}
}

func (p *scriptedProcessor) Process(ctx context.Context, msg *Message) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	n := p.calls[msg.ID]
	p.calls[msg.ID] = n + 1
	if n < len(p.failures[msg.ID]) {
		return p.failures[msg.ID][n]
	}
	return nil
}

func (p *scriptedProcessor) callCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

type deadLetters struct {
	mu   sync.Mutex
	msgs []*Message
	errs []error
}

func (d *deadLetters) record(_ context.Context, msg *Message, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	d.errs = append(d.errs, err)
}

func (d *deadLetters) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

func testPool(proc Processor, cfg *PoolConfig) *Pool {
	if cfg == nil {
		cfg = &PoolConfig{Workers: 2, QueueSize: 10, JobTimeout: time.Second, MaxRetries: 2, RetryBaseDelay: time.Millisecond}
	}
	return NewPool(proc, cfg, zerolog.Nop())
}

func TestPoolProcessesJobs(t *testing.T) {
	proc := &scriptedProcessor{}
	p := testPool(proc, nil)
	p.Start()
	defer p.Stop(time.Second)

	msg := NewMessage(JobMailSync, nil)
	require.True(t, p.Submit(msg))

	require.Eventually(t, func() bool { return p.GetMetrics().JobsProcessed == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, proc.callCount(msg.ID))
	require.EqualValues(t, 0, p.GetMetrics().InFlight)
}

func TestPoolRetriesTransientFailures(t *testing.T) {
	msg := NewMessage(JobMailSync, nil)
	proc := &scriptedProcessor{failures: map[string][]error{
		msg.ID: {apperr.SessionError("imap.example.com", errors.New("eof"))},
	}}
	dl := &deadLetters{}
	p := testPool(proc, nil)
	p.SetDeadLetter(dl.record)
	p.Start()
	defer p.Stop(time.Second)

	require.True(t, p.Submit(msg))

	require.Eventually(t, func() bool { return p.GetMetrics().JobsProcessed == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 2, proc.callCount(msg.ID))
	require.EqualValues(t, 1, p.GetMetrics().JobsRetried)
	require.Zero(t, dl.len())
}

func TestPoolDeadLettersAfterMaxRetries(t *testing.T) {
	msg := NewMessage(JobMailSync, nil)
	boom := apperr.BatchFetchError(1, errors.New("eof"))
	proc := &scriptedProcessor{failures: map[string][]error{msg.ID: {boom, boom, boom, boom}}}
	dl := &deadLetters{}
	p := testPool(proc, nil)
	p.SetDeadLetter(dl.record)
	p.Start()
	defer p.Stop(time.Second)

	require.True(t, p.Submit(msg))

	require.Eventually(t, func() bool { return dl.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 3, proc.callCount(msg.ID))
	require.Equal(t, 2, dl.msgs[0].Retries)
	require.True(t, apperr.IsCode(dl.errs[0], apperr.CodeBatchFetchError))
}

func TestPoolDeadLettersPermanentFailuresImmediately(t *testing.T) {
	msg := NewMessage(JobMailSync, nil)
	proc := &scriptedProcessor{failures: map[string][]error{msg.ID: {apperr.InvalidAddress("nope")}}}
	dl := &deadLetters{}
	p := testPool(proc, nil)
	p.SetDeadLetter(dl.record)
	p.Start()
	defer p.Stop(time.Second)

	require.True(t, p.Submit(msg))

	require.Eventually(t, func() bool { return dl.len() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, proc.callCount(msg.ID))
	require.Zero(t, p.GetMetrics().JobsRetried)
}

func TestPoolRejectsWhenFullOrStopped(t *testing.T) {
	proc := &scriptedProcessor{block: make(chan struct{})}
	p := testPool(proc, &PoolConfig{Workers: 1, QueueSize: 1, JobTimeout: time.Second, RetryBaseDelay: time.Millisecond})

	require.False(t, p.Submit(NewMessage(JobMailSync, nil)), "not started")

	p.Start()
	require.True(t, p.Submit(NewMessage(JobMailSync, nil)))
	require.False(t, p.Submit(NewMessage(JobMailSync, nil)))
	require.EqualValues(t, 1, p.GetMetrics().JobsRejected)

	close(proc.block)
	require.Eventually(t, func() bool { return p.GetMetrics().JobsProcessed == 1 }, time.Second, 5*time.Millisecond)
	p.Stop(time.Second)
	require.False(t, p.Submit(NewMessage(JobMailSync, nil)))
}

func TestPoolJobTimeout(t *testing.T) {
	msg := NewMessage(JobMailSync, nil)
	proc := &scriptedProcessor{block: make(chan struct{})}
	dl := &deadLetters{}
	p := testPool(proc, &PoolConfig{Workers: 1, QueueSize: 5, JobTimeout: 20 * time.Millisecond, RetryBaseDelay: time.Millisecond})
	p.SetDeadLetter(dl.record)
	p.Start()
	defer func() {
		close(proc.block)
		p.Stop(time.Second)
	}()

	require.True(t, p.Submit(msg))
	require.Eventually(t, func() bool { return dl.len() == 1 }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, dl.errs[0], context.DeadlineExceeded)
}
