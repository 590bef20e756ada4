package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultCutoff marks the start of the "recent mail" window used for reporting.
var DefaultCutoff = time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL       string
	MongoDBURL        string
	MongoDBName       string
	MongoDBCollection string
	RedisURL          string
	NATSURL           string

	// Auth
	JWTSecret     string
	EncryptionKey string

	// OAuth2 clients used to refresh stored grants
	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenantID     string
	YahooClientID         string
	YahooClientSecret     string

	// Providers
	ProvidersFile string

	// Sync pipeline
	SyncBatchSize        int
	SyncCutoff           time.Time
	SyncPacingDelay      time.Duration
	SyncParseConcurrency int
	SyncDialTimeout      time.Duration
	SyncLockTTL          time.Duration
	SyncResultTTL        time.Duration

	// Per-mailbox submission limit
	RateLimitEnabled bool
	RateLimitMax     int
	RateLimitWindow  time.Duration

	// Worker
	WorkerID         string
	WorkerMax        int
	WorkerQueueSize  int
	WorkerJobTimeout time.Duration

	// Consumer (Redis Stream)
	ConsumerBatchSize       int
	ConsumerBlockMS         int
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "3000"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		MongoDBURL:        getEnv("MONGODB_URL", "mongodb://localhost:27017"),
		MongoDBName:       getEnv("MONGODB_DATABASE", "emailSync"),
		MongoDBCollection: getEnv("MONGODB_COLLECTION", "emails"),
		RedisURL:          getEnv("REDIS_URL", ""),
		NATSURL:           getEnv("NATS_URL", ""),

		// Auth
		JWTSecret:     getEnv("JWT_SECRET", ""),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),
		YahooClientID:         getEnv("YAHOO_CLIENT_ID", ""),
		YahooClientSecret:     getEnv("YAHOO_CLIENT_SECRET", ""),

		ProvidersFile: getEnv("PROVIDERS_FILE", ""),

		// Sync pipeline
		SyncBatchSize:        getEnvInt("SYNC_BATCH_SIZE", 100),
		SyncCutoff:           getEnvTime("SYNC_CUTOFF", DefaultCutoff),
		SyncPacingDelay:      getEnvDuration("SYNC_PACING_DELAY", 0),
		SyncParseConcurrency: getEnvInt("SYNC_PARSE_CONCURRENCY", 8),
		SyncDialTimeout:      getEnvDuration("SYNC_DIAL_TIMEOUT", 15*time.Second),
		SyncLockTTL:          getEnvDuration("SYNC_LOCK_TTL", 30*time.Minute),
		SyncResultTTL:        getEnvDuration("SYNC_RESULT_TTL", 24*time.Hour),

		RateLimitEnabled: getEnvBool("SYNC_RATE_LIMIT_ENABLED", true),
		RateLimitMax:     getEnvInt("SYNC_RATE_LIMIT_MAX", 6),
		RateLimitWindow:  getEnvDuration("SYNC_RATE_LIMIT_WINDOW", time.Hour),

		// Worker
		WorkerID:         getEnv("WORKER_ID", generateWorkerID()),
		WorkerMax:        getEnvInt("WORKER_MAX", 4),
		WorkerQueueSize:  getEnvInt("WORKER_QUEUE_SIZE", 100),
		WorkerJobTimeout: getEnvDuration("WORKER_JOB_TIMEOUT", 30*time.Minute),

		// Consumer
		ConsumerBatchSize:       getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlockMS:         getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 60),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.SyncBatchSize <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive, got %d", c.SyncBatchSize)
	}
	if c.SyncParseConcurrency <= 0 {
		return fmt.Errorf("SYNC_PARSE_CONCURRENCY must be positive, got %d", c.SyncParseConcurrency)
	}
	if c.SyncPacingDelay < 0 {
		return fmt.Errorf("SYNC_PACING_DELAY must not be negative")
	}
	if c.MongoDBURL == "" {
		return fmt.Errorf("MONGODB_URL is required")
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes for AES-256")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("250ms") or plain milliseconds ("250").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// getEnvTime accepts RFC3339 timestamps or plain dates (2006-01-02, UTC).
func getEnvTime(key string, defaultValue time.Time) time.Time {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
