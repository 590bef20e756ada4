package mailbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize        = 100
	DefaultParseConcurrency = 8
)

// PipelineConfig tunes the batch loop.
type PipelineConfig struct {
	BatchSize        int
	Cutoff           time.Time
	PacingDelay      time.Duration
	ParseConcurrency int
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ParseConcurrency <= 0 {
		c.ParseConcurrency = DefaultParseConcurrency
	}
	if c.PacingDelay < 0 {
		c.PacingDelay = 0
	}
	return c
}

// Run is the input of one pipeline execution.
type Run struct {
	Session        out.MailboxSession
	Host           string
	IDs            []string
	Account        string
	ProviderDomain string
	StartedAt      time.Time
}

// Pipeline fetches, parses and stores messages one batch at a time.
type Pipeline struct {
	cfg      PipelineConfig
	parser   *Parser
	store    out.MessageStore
	observer out.ProgressObserver
	metrics  out.MetricsSink
	now      func() time.Time
}

func NewPipeline(cfg PipelineConfig, parser *Parser, store out.MessageStore, observer out.ProgressObserver, metrics out.MetricsSink) *Pipeline {
	if parser == nil {
		parser = NewParser()
	}
	return &Pipeline{
		cfg:      cfg.withDefaults(),
		parser:   parser,
		store:    store,
		observer: observer,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Partition splits ids into contiguous batches of at most size ids,
// preserving server order.
func Partition(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

// Run processes every batch in order. On a fetch or write failure it stops
// and returns the counts accumulated so far together with the error.
func (p *Pipeline) Run(ctx context.Context, run Run) (*domain.SyncResult, error) {
	result := &domain.SyncResult{TotalFound: len(run.IDs)}
	batches := Partition(run.IDs, p.cfg.BatchSize)
	log := logger.WithField("account", run.Account)

	meta := ParseMeta{
		Account:        run.Account,
		ProviderDomain: run.ProviderDomain,
		SyncedAt:       run.StartedAt,
	}

	for i, ids := range batches {
		if i > 0 && p.cfg.PacingDelay > 0 {
			if err := sleepCtx(ctx, p.cfg.PacingDelay); err != nil {
				return p.finish(result, run), apperr.SessionError(run.Host, fmt.Errorf("stopped before batch %d: %w", i, err))
			}
		}
		if err := ctx.Err(); err != nil {
			return p.finish(result, run), apperr.SessionError(run.Host, fmt.Errorf("stopped before batch %d: %w", i, err))
		}

		batchStart := p.now()
		state, err := p.collect(ctx, run.Session, i, ids, meta)
		if err != nil {
			return p.finish(result, run), apperr.BatchFetchError(i, err)
		}

		result.TotalProcessed += state.Fetched
		result.FilteredCount += state.Filtered

		saved := 0
		if len(state.Records) > 0 {
			if _, err := p.store.InsertMany(ctx, state.Records); err != nil {
				log.WithError(err).Error("[Pipeline.Run] batch %d write failed (%d records)", i, len(state.Records))
				return p.finish(result, run), apperr.BatchWriteError(i, err)
			}
			saved = len(state.Records)
		}
		result.TotalSaved += saved

		elapsed := p.now().Sub(batchStart)
		if p.metrics != nil {
			p.metrics.ObserveBatch(state.Fetched, saved, state.ParseFailed, elapsed)
		}
		if p.observer != nil {
			p.observer.BatchCompleted(i, saved)
		}
		log.WithDuration(elapsed).Info("[Pipeline.Run] batch %d/%d: fetched=%d saved=%d parse_failed=%d",
			i+1, len(batches), state.Fetched, saved, state.ParseFailed)
	}

	return p.finish(result, run), nil
}

// collect runs one fetch for the batch and parses messages as they arrive.
// Parsing may finish in any order; the barrier at g.Wait guarantees every
// record is present before the write.
func (p *Pipeline) collect(ctx context.Context, sess out.MailboxSession, index int, ids []string, meta ParseMeta) (*domain.BatchState, error) {
	state := &domain.BatchState{Index: index, IDs: ids}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var (
		mu      sync.Mutex
		slots   = make([]*domain.MessageRecord, 0, len(ids))
		arrived = 0
		g       errgroup.Group
	)
	g.SetLimit(p.cfg.ParseConcurrency)

	fetchErr := sess.Fetch(ctx, ids, func(raw *domain.RawMessage) error {
		// only ids requested for this batch, each once
		if !wanted[raw.ServerID] {
			return nil
		}
		delete(wanted, raw.ServerID)

		slot := arrived
		arrived++
		mu.Lock()
		slots = append(slots, nil)
		mu.Unlock()

		g.Go(func() error {
			rec, err := p.parser.Parse(raw, meta)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				state.ParseFailed++
				logger.WithError(err).Warn("[Pipeline.collect] skipping unparseable message %s in batch %d", raw.ServerID, index)
				return nil
			}
			slots[slot] = rec
			return nil
		})
		return nil
	})
	_ = g.Wait()
	if fetchErr != nil {
		return nil, fetchErr
	}
	if p.observer != nil {
		for i := 0; i < arrived; i++ {
			p.observer.MessageProcessed()
		}
	}

	state.Fetched = arrived
	state.Records = make([]*domain.MessageRecord, 0, arrived-state.ParseFailed)
	for _, rec := range slots {
		if rec == nil {
			continue
		}
		state.Records = append(state.Records, rec)
		if !rec.SentAt.Before(p.cfg.Cutoff) {
			state.Filtered++
		}
	}
	return state, nil
}

func (p *Pipeline) finish(result *domain.SyncResult, run Run) *domain.SyncResult {
	if !run.StartedAt.IsZero() {
		result.DurationMs = p.now().Sub(run.StartedAt).Milliseconds()
	}
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
