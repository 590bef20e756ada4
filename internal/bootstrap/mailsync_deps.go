// Package bootstrap wires adapters, services and entry points together.
package bootstrap

import (
	"context"
	"fmt"

	"mailsync_server/adapter/in/http"
	"mailsync_server/adapter/out/imapmail"
	"mailsync_server/adapter/out/mailserver"
	"mailsync_server/adapter/out/messaging"
	"mailsync_server/adapter/out/mongodb"
	"mailsync_server/adapter/out/oauth"
	"mailsync_server/adapter/out/persistence"
	"mailsync_server/adapter/out/pop3mail"
	"mailsync_server/config"
	"mailsync_server/core/service/mailbox"
	"mailsync_server/core/service/provider"
	"mailsync_server/core/service/report"
	"mailsync_server/infra/database"
	"mailsync_server/pkg/cache"
	"mailsync_server/pkg/crypto"
	"mailsync_server/pkg/logger"
	"mailsync_server/pkg/metrics"
	"mailsync_server/pkg/ratelimit"
	"mailsync_server/pkg/resilience"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// streamMaxLen caps mail:sync; older acknowledged entries are trimmed.
const streamMaxLen = 100000

type Dependencies struct {
	Config *config.Config

	Mongo  *mongo.Client
	SQLDB  *sqlx.DB
	Redis  *redis.Client
	Events *messaging.EventPublisher

	Sealer   crypto.Sealer
	Metrics  *metrics.SyncCollector
	Reporter *report.Reporter
	Breakers *resilience.Registry

	Messages *mongodb.MessageAdapter
	Runs     *persistence.RunAdapter
	OAuth    *persistence.OAuthAdapter
	State    *cache.RedisCache
	Producer *messaging.RedisProducer
	Limiter  *ratelimit.SlidingWindowLimiter

	SyncService *mailbox.SyncService
}

// NewDependencies connects every configured backend. MongoDB is required;
// Postgres, Redis and NATS are optional and their features switch off when
// the URL is empty.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return fail(fmt.Errorf("encryption key: %w", err))
	}
	if cfg.EncryptionKey == "" {
		logger.Warn("ENCRYPTION_KEY not set, queued credentials are stored in plaintext")
	}
	deps.Sealer = sealer

	deps.Metrics = metrics.NewSyncCollector()
	deps.Reporter = report.NewReporter(deps.Metrics)
	deps.Breakers = resilience.NewRegistry(mailserver.BreakerConfig())

	// MongoDB
	mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
	if err != nil {
		return fail(err)
	}
	deps.Mongo = mongoClient
	cleanups = append(cleanups, func() { _ = mongoClient.Disconnect(context.Background()) })

	deps.Messages = mongodb.NewMessageAdapter(mongoClient.Database(cfg.MongoDBName), cfg.MongoDBCollection)
	if err := deps.Messages.EnsureIndexes(ctx); err != nil {
		return fail(err)
	}
	logger.Info("MongoDB connected: %s.%s", cfg.MongoDBName, cfg.MongoDBCollection)

	// Postgres (run ledger, oauth grants)
	if cfg.DatabaseURL != "" {
		sqlDB, err := database.NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return fail(err)
		}
		deps.SQLDB = sqlDB
		cleanups = append(cleanups, func() { sqlDB.Close() })

		deps.Runs = persistence.NewRunAdapter(sqlDB)
		if err := deps.Runs.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		deps.OAuth = persistence.NewOAuthAdapter(sqlDB, sealer)
		if err := deps.OAuth.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		if err := deps.Metrics.RegisterDB("postgres", sqlDB.DB); err != nil {
			logger.WithError(err).Warn("Failed to register postgres pool metrics")
		}
		logger.Info("PostgreSQL connected")
	} else {
		logger.Warn("DATABASE_URL not set, run ledger and stored OAuth grants disabled")
	}

	// Redis (job queue, lock, last result)
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			return fail(err)
		}
		deps.Redis = redisClient
		cleanups = append(cleanups, func() { _ = redisClient.Close() })

		deps.State = cache.NewRedisCache(redisClient, cfg.SyncLockTTL, cfg.SyncResultTTL)
		deps.Producer = messaging.NewRedisProducer(redisClient, streamMaxLen)
		logger.Info("Redis connected")
	} else {
		logger.Warn("REDIS_URL not set, job queue and mailbox locks disabled")
	}

	if cfg.RateLimitEnabled {
		var scripter redis.Scripter
		if deps.Redis != nil {
			scripter = deps.Redis
		}
		deps.Limiter = ratelimit.NewSlidingWindowLimiter(scripter, cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	// NATS (run events)
	if cfg.NATSURL != "" {
		events, err := messaging.NewEventPublisher(cfg.NATSURL)
		if err != nil {
			return fail(err)
		}
		deps.Events = events
		cleanups = append(cleanups, events.Close)
		if err := events.EnsureStream(ctx); err != nil {
			return fail(err)
		}
		logger.Info("NATS JetStream connected")
	}

	directory, err := provider.Load(cfg.ProvidersFile)
	if err != nil {
		return fail(err)
	}
	logger.Info("Provider table loaded: %d providers", directory.Len())

	dialer := mailserver.NewRouter(
		imapmail.NewDialer(imapmail.WithDialTimeout(cfg.SyncDialTimeout)),
		pop3mail.NewDialer(pop3mail.WithDialTimeout(cfg.SyncDialTimeout)),
		deps.Breakers,
	)

	var opts []mailbox.Option
	if deps.Runs != nil {
		opts = append(opts, mailbox.WithRunRecorder(deps.Runs))
	}
	if deps.Events != nil {
		opts = append(opts, mailbox.WithEventPublisher(deps.Events))
	}
	if deps.OAuth != nil {
		configs := oauth.Configs(oauth.ClientConfig{
			GoogleClientID:        cfg.GoogleClientID,
			GoogleClientSecret:    cfg.GoogleClientSecret,
			MicrosoftClientID:     cfg.MicrosoftClientID,
			MicrosoftClientSecret: cfg.MicrosoftClientSecret,
			MicrosoftTenantID:     cfg.MicrosoftTenantID,
			YahooClientID:         cfg.YahooClientID,
			YahooClientSecret:     cfg.YahooClientSecret,
		})
		if len(configs) > 0 {
			opts = append(opts, mailbox.WithTokenFetcher(oauth.NewFetcher(deps.OAuth, configs)))
		}
	}

	deps.SyncService = mailbox.NewSyncService(
		directory,
		dialer,
		deps.Messages,
		deps.Reporter,
		deps.Metrics,
		mailbox.PipelineConfig{
			BatchSize:        cfg.SyncBatchSize,
			Cutoff:           cfg.SyncCutoff,
			PacingDelay:      cfg.SyncPacingDelay,
			ParseConcurrency: cfg.SyncParseConcurrency,
		},
		opts...,
	)

	return deps, cleanup, nil
}

// HealthChecks lists a ping per connected backend for /ready.
func (d *Dependencies) HealthChecks() map[string]http.Check {
	checks := map[string]http.Check{
		"mongodb": func(ctx context.Context) error { return d.Mongo.Ping(ctx, nil) },
	}
	if d.SQLDB != nil {
		checks["postgres"] = d.SQLDB.PingContext
	}
	if d.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() }
	}
	if d.Events != nil {
		checks["nats"] = func(context.Context) error { return d.Events.Ping() }
	}
	return checks
}

// SyncHandlerDeps converts the optional backends without leaking typed nils
// into interfaces.
func (d *Dependencies) SyncHandlerDeps() http.SyncHandlerDeps {
	hd := http.SyncHandlerDeps{
		Service:  d.SyncService,
		Sealer:   d.Sealer,
		Stats:    d.Messages,
		Progress: d.Reporter,
	}
	if d.Producer != nil {
		hd.Queue = d.Producer
	}
	if d.State != nil {
		hd.State = d.State
	}
	if d.Runs != nil {
		hd.Runs = d.Runs
	}
	if d.Limiter != nil {
		hd.Limiter = d.Limiter
	}
	return hd
}
