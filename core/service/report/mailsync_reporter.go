// Package report tracks sync progress and forwards run metrics.
package report

import (
	"sync"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/logger"
)

// Snapshot is a consistent view of the reporter state.
type Snapshot struct {
	TotalProcessed int64              `json:"total_processed"`
	TotalSaved     int64              `json:"total_saved"`
	Runs           int64              `json:"runs"`
	LastRun        *domain.SyncResult `json:"last_run,omitempty"`
	LastDurationMs int64              `json:"last_duration_ms"`
	LastThroughput *float64           `json:"last_throughput,omitempty"`
}

// Reporter accumulates counters across runs and keeps the last run's
// duration and throughput. The last-run fields are replaced together.
type Reporter struct {
	mu      sync.Mutex
	metrics out.MetricsSink

	processed int64
	saved     int64
	runs      int64

	lastRun        *domain.SyncResult
	lastThroughput *float64
}

func NewReporter(metrics out.MetricsSink) *Reporter {
	return &Reporter{metrics: metrics}
}

func (r *Reporter) MessageProcessed() {
	r.mu.Lock()
	r.processed++
	r.mu.Unlock()
}

func (r *Reporter) BatchCompleted(index, saved int) {
	r.mu.Lock()
	r.saved += int64(saved)
	r.mu.Unlock()
	logger.Debug("[Reporter] batch %d completed, saved=%d", index, saved)
}

// RunCompleted records the final result. Throughput is computed here, once.
func (r *Reporter) RunCompleted(result *domain.SyncResult) {
	if result == nil {
		return
	}
	copied := *result
	throughput := copied.Throughput()

	r.mu.Lock()
	r.runs++
	r.lastRun = &copied
	r.lastThroughput = throughput
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ObserveRun(copied.DurationMs, copied.TotalSaved)
	}

	log := logger.WithFields(map[string]any{
		"total_found":     copied.TotalFound,
		"total_processed": copied.TotalProcessed,
		"total_saved":     copied.TotalSaved,
		"filtered":        copied.FilteredCount,
		"duration_ms":     copied.DurationMs,
	})
	if throughput != nil {
		log.Info("[Reporter] run completed: %.2f emails/sec", *throughput)
	} else {
		log.Info("[Reporter] run completed: throughput n/a")
	}
}

func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		TotalProcessed: r.processed,
		TotalSaved:     r.saved,
		Runs:           r.runs,
		LastThroughput: r.lastThroughput,
	}
	if r.lastRun != nil {
		last := *r.lastRun
		s.LastRun = &last
		s.LastDurationMs = last.DurationMs
	}
	return s
}
