// Package in defines inbound ports (driving ports) for the application.
package in

import (
	"context"

	"mailsync_server/core/domain"
)

// SyncService runs one mailbox synchronization.
type SyncService interface {
	// RunSync returns a partial result together with the error when a batch
	// fails mid-run.
	RunSync(ctx context.Context, desc domain.SyncDescriptor) (*domain.SyncResult, error)
}
