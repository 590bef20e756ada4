// Package persistence keeps the sync run ledger and stored OAuth grants
// in PostgreSQL.
package persistence

import (
	"context"
	"fmt"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

const defaultRunLimit = 20

const syncRunsSchema = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id              TEXT PRIMARY KEY,
	account         TEXT NOT NULL,
	provider_domain TEXT NOT NULL DEFAULT '',
	folder          TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	error_code      TEXT,
	total_found     INTEGER NOT NULL DEFAULT 0,
	total_processed INTEGER NOT NULL DEFAULT 0,
	total_saved     INTEGER NOT NULL DEFAULT 0,
	filtered_count  INTEGER NOT NULL DEFAULT 0,
	duration_ms     BIGINT NOT NULL DEFAULT 0,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_account_started ON sync_runs (account, started_at DESC);`

// RunAdapter implements out.RunRecorder.
type RunAdapter struct {
	db *sqlx.DB
}

func NewRunAdapter(db *sqlx.DB) *RunAdapter {
	return &RunAdapter{db: db}
}

func (a *RunAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, syncRunsSchema); err != nil {
		return fmt.Errorf("failed to create sync_runs: %w", err)
	}
	return nil
}

// RecordRun upserts the ledger row for run.ID.
func (a *RunAdapter) RecordRun(ctx context.Context, run *domain.SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, account, provider_domain, folder, status, error_code,
		                       total_found, total_processed, total_saved, filtered_count,
		                       duration_ms, started_at, finished_at)
		VALUES (:id, :account, :provider_domain, :folder, :status, NULLIF(:error_code, ''),
		        :total_found, :total_processed, :total_saved, :filtered_count,
		        :duration_ms, :started_at, :finished_at)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error_code = EXCLUDED.error_code,
			total_found = EXCLUDED.total_found,
			total_processed = EXCLUDED.total_processed,
			total_saved = EXCLUDED.total_saved,
			filtered_count = EXCLUDED.filtered_count,
			duration_ms = EXCLUDED.duration_ms,
			finished_at = EXCLUDED.finished_at`

	if _, err := a.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to record sync run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the newest runs for account, at most limit.
func (a *RunAdapter) ListRuns(ctx context.Context, account string, limit int) ([]*domain.SyncRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}

	runs := []*domain.SyncRun{}
	query := `
		SELECT id, account, provider_domain, folder, status, COALESCE(error_code, '') AS error_code,
		       total_found, total_processed, total_saved, filtered_count,
		       duration_ms, started_at, finished_at
		FROM sync_runs
		WHERE account = $1
		ORDER BY started_at DESC
		LIMIT $2`

	if err := a.db.SelectContext(ctx, &runs, query, account, limit); err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	return runs, nil
}

var _ out.RunRecorder = (*RunAdapter)(nil)
