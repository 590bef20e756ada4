package out

import (
	"time"

	"mailsync_server/core/domain"
)

// ProgressObserver receives pipeline events in the order they happen.
type ProgressObserver interface {
	MessageProcessed()
	BatchCompleted(index, saved int)
	RunCompleted(result *domain.SyncResult)
}

// MetricsSink is the external metrics collaborator.
type MetricsSink interface {
	ObserveRun(durationMs int64, totalSaved int)
	ObserveBatch(size, saved, parseFailed int, elapsed time.Duration)
	ObserveFailure(code string)
}
