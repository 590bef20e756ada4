package out

import (
	"context"
	"time"
)

// SyncJob is a queued sync request. Password and OAuthToken are sealed
// with the service key before they leave the API process.
type SyncJob struct {
	JobID      string    `json:"job_id"`
	Address    string    `json:"email"`
	Password   string    `json:"password,omitempty"`
	OAuthToken string    `json:"oauth_token,omitempty"`
	Host       string    `json:"host,omitempty"`
	Port       int       `json:"port,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// JobQueue accepts sync jobs for asynchronous processing.
type JobQueue interface {
	EnqueueSync(ctx context.Context, job *SyncJob) (string, error)
}
