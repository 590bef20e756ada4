package mailbox

import (
	"context"
	"testing"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/pkg/apperr"

	"github.com/stretchr/testify/require"
)

var (
	recent = time.Date(2023, 3, 1, 10, 0, 0, 0, time.UTC)
	old    = time.Date(2019, 5, 1, 10, 0, 0, 0, time.UTC)
	cutoff = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
)

func TestPartition(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{"empty", 0, 100, []int{}},
		{"exact", 100, 100, []int{100}},
		{"one over", 101, 100, []int{100, 1}},
		{"uneven", 250, 100, []int{100, 100, 50}},
		{"default size", 150, 0, []int{100, 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := makeIDs(tt.n)
			batches := Partition(ids, tt.size)

			sizes := make([]int, 0, len(batches))
			var flat []string
			for _, b := range batches {
				sizes = append(sizes, len(b))
				flat = append(flat, b...)
			}
			require.Equal(t, tt.sizes, sizes)
			if tt.n > 0 {
				require.Equal(t, ids, flat)
			}
		})
	}
}

func newTestPipeline(store *fakeStore, obs *countingObserver) *Pipeline {
	p := NewPipeline(PipelineConfig{BatchSize: 100, Cutoff: cutoff, ParseConcurrency: 4}, nil, store, obs, nil)
	p.now = stepClock(recent, 10*time.Millisecond)
	return p
}

func TestPipelineStoresEveryBatch(t *testing.T) {
	sess := newFakeSession(250, recent)
	store := &fakeStore{}
	obs := &countingObserver{}

	result, err := newTestPipeline(store, obs).Run(context.Background(), Run{
		Session:   sess,
		IDs:       sess.ids,
		Account:   "a@gmail.com",
		StartedAt: recent,
	})
	require.NoError(t, err)

	require.Equal(t, 250, result.TotalFound)
	require.Equal(t, 250, result.TotalProcessed)
	require.Equal(t, 250, result.TotalSaved)
	require.Equal(t, 250, result.FilteredCount)
	require.Positive(t, result.DurationMs)

	require.Equal(t, 3, sess.fetchCalls)
	require.Equal(t, 3, store.calls)
	require.Equal(t, []int{100, 100, 50}, obs.batches)
	require.Equal(t, 250, obs.processed)

	// server order is preserved within a batch
	require.Equal(t, "1", store.batches[0][0].ServerID)
	require.Equal(t, "100", store.batches[0][99].ServerID)
}

func TestPipelineWriteFailureKeepsPartialCounts(t *testing.T) {
	sess := newFakeSession(250, recent)
	store := &fakeStore{failOnCall: 2}

	result, err := newTestPipeline(store, &countingObserver{}).Run(context.Background(), Run{Session: sess, IDs: sess.ids, StartedAt: recent})

	require.True(t, apperr.IsCode(err, apperr.CodeBatchWriteError), "got %v", err)
	require.NotNil(t, result)
	require.Equal(t, 250, result.TotalFound)
	require.Equal(t, 200, result.TotalProcessed)
	require.Equal(t, 100, result.TotalSaved)
	require.Equal(t, 100, store.total())
	require.Equal(t, 2, sess.fetchCalls, "no batch after the failed one is fetched")
}

func TestPipelineSkipsUnparseableMessages(t *testing.T) {
	sess := newFakeSession(10, recent)
	sess.bodies["4"] = []byte("   ")
	store := &fakeStore{}

	result, err := newTestPipeline(store, &countingObserver{}).Run(context.Background(), Run{Session: sess, IDs: sess.ids, StartedAt: recent})
	require.NoError(t, err)

	require.Equal(t, 10, result.TotalProcessed)
	require.Equal(t, 9, result.TotalSaved)
	require.Len(t, store.batches, 1)
	require.Len(t, store.batches[0], 9)
	for _, rec := range store.batches[0] {
		require.NotEqual(t, "4", rec.ServerID)
	}
}

func TestPipelineCutoffOnlyClassifies(t *testing.T) {
	sess := newFakeSession(6, recent)
	for _, id := range []string{"1", "2", "3"} {
		sess.bodies[id] = rawMail("old "+id, old)
	}
	store := &fakeStore{}

	result, err := newTestPipeline(store, &countingObserver{}).Run(context.Background(), Run{Session: sess, IDs: sess.ids, StartedAt: recent})
	require.NoError(t, err)

	require.Equal(t, 6, result.TotalSaved)
	require.Equal(t, 3, result.FilteredCount)
}

func TestPipelineFetchFailure(t *testing.T) {
	sess := newFakeSession(150, recent)
	sess.fetchErrOn = 2
	store := &fakeStore{}

	result, err := newTestPipeline(store, &countingObserver{}).Run(context.Background(), Run{Session: sess, IDs: sess.ids, StartedAt: recent})

	require.True(t, apperr.IsCode(err, apperr.CodeBatchFetchError), "got %v", err)
	require.Equal(t, 100, result.TotalProcessed)
	require.Equal(t, 100, result.TotalSaved)
}

func TestPipelineFetchFailureMidBatchKeepsReporterInStep(t *testing.T) {
	sess := newFakeSession(150, recent)
	sess.fetchErrOn = 2
	sess.deliverBeforeErr = 20
	obs := &countingObserver{}

	result, err := newTestPipeline(&fakeStore{}, obs).Run(context.Background(), Run{Session: sess, IDs: sess.ids, StartedAt: recent})

	require.True(t, apperr.IsCode(err, apperr.CodeBatchFetchError), "got %v", err)
	require.Equal(t, 100, result.TotalProcessed)
	require.Equal(t, result.TotalProcessed, obs.processed)
}

func TestPipelineIgnoresUnrequestedMessages(t *testing.T) {
	sess := newFakeSession(3, recent)
	sess.extra = []*domain.RawMessage{{ServerID: "999", Body: rawMail("stray", recent)}}
	store := &fakeStore{}

	result, err := newTestPipeline(store, &countingObserver{}).Run(context.Background(), Run{Session: sess, IDs: sess.ids, StartedAt: recent})
	require.NoError(t, err)
	require.Equal(t, 3, result.TotalProcessed)
	require.Equal(t, 3, result.TotalSaved)
}

func TestPipelineEmptyMailbox(t *testing.T) {
	store := &fakeStore{}
	result, err := newTestPipeline(store, &countingObserver{}).Run(context.Background(), Run{Session: newFakeSession(0, recent), StartedAt: recent})
	require.NoError(t, err)
	require.Equal(t, domain.SyncResult{DurationMs: result.DurationMs}, *result)
	require.Zero(t, store.calls)
}

func TestPipelineStopsWhenCancelled(t *testing.T) {
	sess := newFakeSession(250, recent)
	p := NewPipeline(PipelineConfig{BatchSize: 100, PacingDelay: time.Hour}, nil, &fakeStore{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := p.Run(ctx, Run{Session: sess, IDs: sess.ids, StartedAt: time.Now()})
	require.True(t, apperr.IsCode(err, apperr.CodeSessionError), "got %v", err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 100, result.TotalSaved)
	require.Equal(t, 1, sess.fetchCalls)
}

func TestResultInvariants(t *testing.T) {
	sess := newFakeSession(37, recent)
	sess.bodies["5"] = nil
	sess.bodies["20"] = []byte{}

	result, err := NewPipeline(PipelineConfig{BatchSize: 7, Cutoff: cutoff}, nil, &fakeStore{}, nil, nil).
		Run(context.Background(), Run{Session: sess, IDs: sess.ids, StartedAt: recent})
	require.NoError(t, err)
	require.LessOrEqual(t, result.TotalSaved, result.TotalProcessed)
	require.LessOrEqual(t, result.TotalProcessed, result.TotalFound)
	require.Equal(t, 35, result.TotalSaved)
}
