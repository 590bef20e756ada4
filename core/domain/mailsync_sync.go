package domain

import "time"

// =============================================================================
// Sync run result
// =============================================================================

// SyncResult summarizes one run. TotalSaved <= TotalProcessed <= TotalFound
// always holds; a gap between saved and processed is the visible record loss.
type SyncResult struct {
	TotalFound     int   `json:"totalFound"`
	TotalProcessed int   `json:"totalProcessed"`
	TotalSaved     int   `json:"totalSaved"`
	FilteredCount  int   `json:"filteredCount"`
	DurationMs     int64 `json:"durationMs"`
}

// Throughput returns saved records per second, or nil for a zero-length run.
func (r *SyncResult) Throughput() *float64 {
	if r == nil || r.DurationMs <= 0 {
		return nil
	}
	v := float64(r.TotalSaved) / (float64(r.DurationMs) / 1000.0)
	return &v
}

// =============================================================================
// Sync run ledger
// =============================================================================

type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// SyncRun is the persisted outcome of one run.
type SyncRun struct {
	ID             string    `json:"id" db:"id"`
	Account        string    `json:"account" db:"account"`
	ProviderDomain string    `json:"provider_domain" db:"provider_domain"`
	Folder         string    `json:"folder" db:"folder"`
	Status         RunStatus `json:"status" db:"status"`
	ErrorCode      string    `json:"error_code,omitempty" db:"error_code"`
	TotalFound     int       `json:"total_found" db:"total_found"`
	TotalProcessed int       `json:"total_processed" db:"total_processed"`
	TotalSaved     int       `json:"total_saved" db:"total_saved"`
	FilteredCount  int       `json:"filtered_count" db:"filtered_count"`
	DurationMs     int64     `json:"duration_ms" db:"duration_ms"`
	StartedAt      time.Time `json:"started_at" db:"started_at"`
	FinishedAt     time.Time `json:"finished_at" db:"finished_at"`
}

// NewSyncRun fills a ledger row from a (possibly partial) result.
func NewSyncRun(id, account, providerDomain, folder string, result *SyncResult, startedAt, finishedAt time.Time, errCode string) *SyncRun {
	run := &SyncRun{
		ID:             id,
		Account:        account,
		ProviderDomain: providerDomain,
		Folder:         folder,
		Status:         RunStatusSucceeded,
		ErrorCode:      errCode,
		StartedAt:      startedAt,
		FinishedAt:     finishedAt,
	}
	if errCode != "" {
		run.Status = RunStatusFailed
	}
	if result != nil {
		run.TotalFound = result.TotalFound
		run.TotalProcessed = result.TotalProcessed
		run.TotalSaved = result.TotalSaved
		run.FilteredCount = result.FilteredCount
		run.DurationMs = result.DurationMs
	}
	return run
}

// RunCompletedEvent is published after every run.
type RunCompletedEvent struct {
	RunID          string      `json:"run_id"`
	Account        string      `json:"account"`
	ProviderDomain string      `json:"provider_domain"`
	Status         RunStatus   `json:"status"`
	ErrorCode      string      `json:"error_code,omitempty"`
	Result         *SyncResult `json:"result,omitempty"`
	Throughput     *float64    `json:"throughput,omitempty"`
	FinishedAt     time.Time   `json:"finished_at"`
}
