package worker

import (
	"context"

	"mailsync_server/pkg/logger"
)

// Processor handles one job.
type Processor interface {
	Process(ctx context.Context, msg *Message) error
}

type Handler struct {
	syncProcessor *SyncProcessor
}

func NewHandler(syncProcessor *SyncProcessor) *Handler {
	return &Handler{syncProcessor: syncProcessor}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.WithField("job_id", msg.ID).Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobMailSync:
		return h.syncProcessor.ProcessSync(ctx, msg)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return Permanent(errUnknownJob(msg.Type))
	}
}
