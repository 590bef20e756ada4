package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/in"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/cache"
	"mailsync_server/pkg/crypto"
	"mailsync_server/pkg/logger"
)

// SyncState is the Redis side of a sync job: mailbox lock and last result.
type SyncState interface {
	Lock(ctx context.Context, address string) (func(context.Context) error, error)
	SetLastResult(ctx context.Context, address string, res *cache.LastResult) error
}

// SyncProcessor runs queued mail.sync jobs.
type SyncProcessor struct {
	service in.SyncService
	sealer  crypto.Sealer
	state   SyncState
	now     func() time.Time
}

// NewSyncProcessor creates a processor. state may be nil, in which case
// no lock is taken and no result is cached.
func NewSyncProcessor(service in.SyncService, sealer crypto.Sealer, state SyncState) *SyncProcessor {
	if sealer == nil {
		sealer = crypto.Plaintext{}
	}
	return &SyncProcessor{
		service: service,
		sealer:  sealer,
		state:   state,
		now:     time.Now,
	}
}

func (p *SyncProcessor) ProcessSync(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.SyncJob](msg)
	if err != nil {
		return Permanent(fmt.Errorf("invalid sync payload: %w", err))
	}
	if job.JobID == "" {
		job.JobID = msg.ID
	}
	log := logger.WithContext(ctx).WithField("job_id", job.JobID).WithField("account", job.Address)

	desc, err := p.unseal(job)
	if err != nil {
		return Permanent(err)
	}

	if p.state != nil {
		release, err := p.state.Lock(ctx, job.Address)
		if errors.Is(err, cache.ErrLockHeld) {
			// the running sync covers this request
			log.Info("[SyncProcessor] mailbox already syncing, job skipped")
			return nil
		}
		if err != nil {
			return fmt.Errorf("mailbox lock: %w", err)
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				log.WithError(rerr).Warn("[SyncProcessor] failed to release mailbox lock")
			}
		}()
	}

	result, runErr := p.service.RunSync(ctx, desc)
	p.cacheResult(ctx, job, result, runErr)

	if runErr != nil {
		log.WithError(runErr).Warn("[SyncProcessor] sync failed: %s", apperr.CodeOf(runErr))
		return runErr
	}
	log.Info("[SyncProcessor] sync finished: saved %d of %d", result.TotalSaved, result.TotalFound)
	return nil
}

func (p *SyncProcessor) unseal(job *out.SyncJob) (domain.SyncDescriptor, error) {
	password, err := p.sealer.Decrypt(job.Password)
	if err != nil {
		return domain.SyncDescriptor{}, fmt.Errorf("decrypt password: %w", err)
	}
	token, err := p.sealer.Decrypt(job.OAuthToken)
	if err != nil {
		return domain.SyncDescriptor{}, fmt.Errorf("decrypt oauth token: %w", err)
	}
	return domain.SyncDescriptor{
		Address:    job.Address,
		Password:   password,
		OAuthToken: token,
		Host:       job.Host,
		Port:       job.Port,
		UserID:     job.UserID,
	}, nil
}

func (p *SyncProcessor) cacheResult(ctx context.Context, job *out.SyncJob, result *domain.SyncResult, runErr error) {
	if p.state == nil {
		return
	}
	last := &cache.LastResult{
		JobID:      job.JobID,
		Status:     domain.RunStatusSucceeded,
		Result:     result,
		Throughput: result.Throughput(),
		FinishedAt: p.now().UTC(),
	}
	if runErr != nil {
		last.Status = domain.RunStatusFailed
		last.ErrorCode = apperr.CodeOf(runErr)
	}
	if err := p.state.SetLastResult(context.WithoutCancel(ctx), job.Address, last); err != nil {
		logger.WithError(err).Warn("[SyncProcessor] failed to cache result for %s", job.Address)
	}
}
