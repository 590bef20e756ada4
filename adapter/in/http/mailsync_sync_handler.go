// Package http exposes the sync service over a Fiber API.
package http

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/in"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/report"
	"mailsync_server/core/service/session"
	"mailsync_server/infra/middleware"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/cache"
	"mailsync_server/pkg/crypto"
	"mailsync_server/pkg/logger"
	"mailsync_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// SyncState is the Redis-backed mailbox lock and last-result cache.
type SyncState interface {
	Lock(ctx context.Context, address string) (func(context.Context) error, error)
	GetLastResult(ctx context.Context, address string) (*cache.LastResult, error)
}

// ProgressSource exposes the in-process reporter.
type ProgressSource interface {
	Snapshot() report.Snapshot
}

// Limiter throttles submissions per mailbox.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// SyncHandlerDeps lists the collaborators of SyncHandler. Every field but
// Service may be nil; the matching feature is then unavailable.
type SyncHandlerDeps struct {
	Service  in.SyncService
	Queue    out.JobQueue
	Sealer   crypto.Sealer
	State    SyncState
	Stats    out.MessageStats
	Runs     out.RunRecorder
	Progress ProgressSource
	Limiter  Limiter
}

type SyncHandler struct {
	deps SyncHandlerDeps
	now  func() time.Time
}

func NewSyncHandler(deps SyncHandlerDeps) *SyncHandler {
	if deps.Sealer == nil {
		deps.Sealer = crypto.Plaintext{}
	}
	return &SyncHandler{deps: deps, now: time.Now}
}

func (h *SyncHandler) Register(api fiber.Router) {
	api.Post("/sync-inbox", h.SyncInbox)
	api.Get("/sync/stats", h.Stats)
	api.Get("/sync/runs", h.Runs)
}

// SyncInboxRequest is the body of POST /api/sync-inbox.
type SyncInboxRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	OAuthToken string `json:"oauthToken"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
}

func (r *SyncInboxRequest) validate() error {
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" {
		return apperr.MissingField("email")
	}
	if _, ok := session.DomainOf(r.Email); !ok {
		return apperr.InvalidAddress(r.Email)
	}
	if r.Port < 0 || r.Port > 65535 {
		return apperr.BadRequest("port out of range")
	}
	return nil
}

// SyncInbox queues a sync job and answers 202. With ?wait=true, or when no
// queue is configured, it runs the sync inline and returns the result.
func (h *SyncHandler) SyncInbox(c *fiber.Ctx) error {
	var req SyncInboxRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if err := req.validate(); err != nil {
		return err
	}
	if h.deps.Limiter != nil {
		if ok, wait := h.deps.Limiter.Allow(c.UserContext(), req.Email); !ok {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			return apperr.RateLimited(req.Email, wait)
		}
	}

	if h.deps.Queue == nil || c.QueryBool("wait") {
		return h.syncInline(c, &req)
	}

	job, err := h.sealJob(&req, middleware.UserID(c))
	if err != nil {
		return apperr.InternalWithError(err)
	}
	streamID, err := h.deps.Queue.EnqueueSync(c.UserContext(), job)
	if err != nil {
		return apperr.ExternalError("job queue", err)
	}

	logger.WithField("job_id", job.JobID).Info("[SyncHandler] queued sync for %s", job.Address)
	return response.Accepted(c, fiber.Map{
		"jobId":    job.JobID,
		"streamId": streamID,
		"status":   "queued",
	})
}

func (h *SyncHandler) sealJob(req *SyncInboxRequest, userID string) (*out.SyncJob, error) {
	password, err := h.deps.Sealer.Encrypt(req.Password)
	if err != nil {
		return nil, err
	}
	token, err := h.deps.Sealer.Encrypt(req.OAuthToken)
	if err != nil {
		return nil, err
	}
	return &out.SyncJob{
		JobID:      uuid.New().String(),
		Address:    req.Email,
		Password:   password,
		OAuthToken: token,
		Host:       req.Host,
		Port:       req.Port,
		UserID:     userID,
		EnqueuedAt: h.now().UTC(),
	}, nil
}

func (h *SyncHandler) syncInline(c *fiber.Ctx, req *SyncInboxRequest) error {
	ctx := c.UserContext()
	if h.deps.State != nil {
		release, err := h.deps.State.Lock(ctx, req.Email)
		if errors.Is(err, cache.ErrLockHeld) {
			return apperr.SyncInProgress(req.Email)
		}
		if err != nil {
			return apperr.ExternalError("redis", err)
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				logger.WithError(rerr).Warn("[SyncHandler] failed to release lock for %s", req.Email)
			}
		}()
	}

	result, err := h.deps.Service.RunSync(ctx, domain.SyncDescriptor{
		Address:    req.Email,
		Password:   req.Password,
		OAuthToken: req.OAuthToken,
		Host:       req.Host,
		Port:       req.Port,
		UserID:     middleware.UserID(c),
	})
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{
		"result":     result,
		"throughput": result.Throughput(),
	})
}

// Stats reports the in-process counters and, with ?email=, the cached last
// result and stored message aggregates for that mailbox.
func (h *SyncHandler) Stats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	data := fiber.Map{}
	if h.deps.Progress != nil {
		data["progress"] = h.deps.Progress.Snapshot()
	}

	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		return response.OK(c, data)
	}
	if _, ok := session.DomainOf(email); !ok {
		return apperr.InvalidAddress(email)
	}

	if h.deps.State != nil {
		last, err := h.deps.State.GetLastResult(ctx, email)
		if err != nil {
			return apperr.ExternalError("redis", err)
		}
		data["lastResult"] = last
	}
	if h.deps.Stats != nil {
		stored, err := h.deps.Stats.GetAccountStats(ctx, email)
		if err != nil {
			return apperr.DatabaseError("account stats", err)
		}
		data["stored"] = stored
	}
	return response.OK(c, data)
}

// Runs lists the most recent ledger rows for ?email=.
func (h *SyncHandler) Runs(c *fiber.Ctx) error {
	if h.deps.Runs == nil {
		return apperr.NotFound("sync run ledger")
	}
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		return apperr.MissingField("email")
	}
	limit := response.Limit(c, 20, 100)
	runs, err := h.deps.Runs.ListRuns(c.UserContext(), email, limit)
	if err != nil {
		return apperr.DatabaseError("list runs", err)
	}
	if runs == nil {
		runs = []*domain.SyncRun{}
	}
	return response.OKWithMeta(c, runs, &response.Meta{Total: len(runs), Limit: limit})
}
