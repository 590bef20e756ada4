package out

import (
	"context"

	"mailsync_server/core/domain"
)

// MessageStore persists parsed records. InsertMany is one unordered bulk
// write; any error means the batch is not considered saved.
type MessageStore interface {
	InsertMany(ctx context.Context, records []*domain.MessageRecord) (int, error)
}

// MessageStats reads aggregates over stored records.
type MessageStats interface {
	GetAccountStats(ctx context.Context, account string) (*domain.AccountStats, error)
}

// RunRecorder keeps the per-run ledger.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *domain.SyncRun) error
	ListRuns(ctx context.Context, account string, limit int) ([]*domain.SyncRun, error)
}

// EventPublisher announces finished runs to other services.
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, event *domain.RunCompletedEvent) error
}
