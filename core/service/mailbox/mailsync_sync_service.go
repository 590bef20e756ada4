// Package mailbox implements the mailbox synchronization pipeline:
// folder enumeration, batched fetch-parse-store and run orchestration.
package mailbox

import (
	"context"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/session"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"

	"github.com/google/uuid"
)

// SyncService wires the session builder, dialer, enumerator and pipeline
// into one linear run.
type SyncService struct {
	directory  session.Directory
	builder    *session.Builder
	dialer     out.SessionDialer
	enumerator *Enumerator
	pipeline   *Pipeline
	observer   out.ProgressObserver
	metrics    out.MetricsSink

	tokens    out.TokenFetcher
	recorder  out.RunRecorder
	publisher out.EventPublisher
	now       func() time.Time
}

// Option customizes the service.
type Option func(*SyncService)

// WithTokenFetcher lets runs without a token ask for one.
func WithTokenFetcher(f out.TokenFetcher) Option {
	return func(s *SyncService) { s.tokens = f }
}

// WithRunRecorder persists every run outcome.
func WithRunRecorder(r out.RunRecorder) Option {
	return func(s *SyncService) { s.recorder = r }
}

// WithEventPublisher announces every run outcome.
func WithEventPublisher(p out.EventPublisher) Option {
	return func(s *SyncService) { s.publisher = p }
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SyncService) {
		if now != nil {
			s.now = now
			s.pipeline.now = now
		}
	}
}

func NewSyncService(
	directory session.Directory,
	dialer out.SessionDialer,
	store out.MessageStore,
	observer out.ProgressObserver,
	metrics out.MetricsSink,
	cfg PipelineConfig,
	opts ...Option,
) *SyncService {
	s := &SyncService{
		directory:  directory,
		builder:    session.NewBuilder(directory),
		dialer:     dialer,
		enumerator: NewEnumerator(),
		pipeline:   NewPipeline(cfg, NewParser(), store, observer, metrics),
		observer:   observer,
		metrics:    metrics,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunSync performs one full synchronization of the primary folder.
// On batch failures the partial result is returned with the error.
func (s *SyncService) RunSync(ctx context.Context, desc domain.SyncDescriptor) (*domain.SyncResult, error) {
	startedAt := s.now()
	runID := uuid.New().String()
	log := logger.WithContext(ctx).WithField("run_id", runID).WithField("account", desc.Address)

	desc.OAuthToken = s.resolveToken(ctx, desc)

	cfg, err := s.builder.Build(session.Request{
		Address:    desc.Address,
		Password:   desc.Password,
		OAuthToken: desc.OAuthToken,
		Host:       desc.Host,
		Port:       desc.Port,
	})
	if err != nil {
		s.complete(ctx, runID, desc.Address, "", "", nil, startedAt, err)
		return nil, err
	}
	log.Info("[SyncService.RunSync] connecting to %s:%d (%s, %s)", cfg.Host, cfg.Port, cfg.Protocol, cfg.Credential.Kind)

	sess, err := s.dialer.Dial(ctx, cfg)
	if err != nil {
		if !apperr.IsAppError(err) {
			err = apperr.SessionError(cfg.Host, err)
		}
		s.complete(ctx, runID, cfg.Address, cfg.Domain, "", nil, startedAt, err)
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.WithError(cerr).Warn("[SyncService.RunSync] session close failed")
		}
	}()

	enum, err := s.enumerator.Enumerate(ctx, sess, cfg.FolderHint)
	if err != nil {
		s.complete(ctx, runID, cfg.Address, cfg.Domain, "", nil, startedAt, err)
		return nil, err
	}
	log.Info("[SyncService.RunSync] folder %s holds %d messages", enum.Folder, len(enum.IDs))

	result, err := s.pipeline.Run(ctx, Run{
		Session:        sess,
		Host:           cfg.Host,
		IDs:            enum.IDs,
		Account:        cfg.Address,
		ProviderDomain: cfg.Domain,
		StartedAt:      startedAt,
	})
	s.complete(ctx, runID, cfg.Address, cfg.Domain, enum.Folder, result, startedAt, err)
	return result, err
}

// resolveToken asks the token fetcher only when the caller supplied no token
// and the provider accepts OAuth2. Fetch failures fall back to no token.
func (s *SyncService) resolveToken(ctx context.Context, desc domain.SyncDescriptor) string {
	if desc.OAuthToken != "" || s.tokens == nil {
		return desc.OAuthToken
	}
	domainPart, ok := session.DomainOf(desc.Address)
	if !ok {
		return ""
	}
	profile, err := s.directory.Lookup(domainPart)
	if err != nil || !profile.SupportsOAuth2 {
		return ""
	}
	token, err := s.tokens.FetchToken(ctx, profile.Domain, desc.UserID)
	if err != nil {
		logger.WithError(err).Warn("[SyncService.resolveToken] token fetch failed for %s", profile.Domain)
		return ""
	}
	return token
}

func (s *SyncService) complete(ctx context.Context, runID, account, providerDomain, folder string, result *domain.SyncResult, startedAt time.Time, runErr error) {
	finishedAt := s.now()
	code := apperr.CodeOf(runErr)
	// the ledger and the event must survive a cancelled run
	ctx = context.WithoutCancel(ctx)

	if runErr != nil {
		if s.metrics != nil {
			s.metrics.ObserveFailure(code)
		}
		logger.WithError(runErr).WithField("account", account).Error("[SyncService.RunSync] run %s failed: %s", runID, code)
	} else if s.observer != nil {
		s.observer.RunCompleted(result)
	}

	if s.recorder != nil {
		run := domain.NewSyncRun(runID, account, providerDomain, folder, result, startedAt, finishedAt, code)
		if err := s.recorder.RecordRun(ctx, run); err != nil {
			logger.WithError(err).Warn("[SyncService.complete] failed to record run %s", runID)
		}
	}

	if s.publisher != nil {
		event := &domain.RunCompletedEvent{
			RunID:          runID,
			Account:        account,
			ProviderDomain: providerDomain,
			Status:         domain.RunStatusSucceeded,
			ErrorCode:      code,
			Result:         result,
			Throughput:     result.Throughput(),
			FinishedAt:     finishedAt,
		}
		if code != "" {
			event.Status = domain.RunStatusFailed
		}
		if err := s.publisher.PublishRunCompleted(ctx, event); err != nil {
			logger.WithError(err).Warn("[SyncService.complete] failed to publish run %s", runID)
		}
	}
}
