package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
)

func rawMail(subject string, sent time.Time) []byte {
	msg := fmt.Sprintf("From: Alice <alice@example.com>\n"+
		"To: bob@example.com\n"+
		"Subject: %s\n"+
		"Date: %s\n"+
		"Message-ID: <%s@example.com>\n"+
		"Content-Type: text/plain; charset=utf-8\n"+
		"\n"+
		"body of %s\n", subject, sent.Format(time.RFC1123Z), strings.ReplaceAll(subject, " ", "-"), subject)
	return []byte(strings.ReplaceAll(msg, "\n", "\r\n"))
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", i+1)
	}
	return ids
}

type fakeSession struct {
	mu sync.Mutex

	folders  []string
	listErr  error
	openErrs map[string]error
	opened   []string

	ids       []string
	searchErr error

	bodies     map[string][]byte
	dates      map[string]time.Time
	extra      []*domain.RawMessage
	fetchErrOn int // 1-based fetch call that fails, 0 for never
	// messages handed out by the failing call before it errors
	deliverBeforeErr int
	fetchCalls int
	fetched    [][]string

	closed bool
}

func newFakeSession(n int, sent time.Time) *fakeSession {
	s := &fakeSession{
		folders: []string{"INBOX", "Sent"},
		ids:     makeIDs(n),
		bodies:  make(map[string][]byte, n),
	}
	for _, id := range s.ids {
		s.bodies[id] = rawMail("message "+id, sent)
	}
	return s
}

func (s *fakeSession) ListFolders(context.Context) ([]string, error) {
	return s.folders, s.listErr
}

func (s *fakeSession) OpenReadOnly(_ context.Context, folder string) error {
	s.opened = append(s.opened, folder)
	if err := s.openErrs[folder]; err != nil {
		return err
	}
	return nil
}

func (s *fakeSession) SearchAll(context.Context) ([]string, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.ids, nil
}

func (s *fakeSession) Fetch(_ context.Context, ids []string, fn func(*domain.RawMessage) error) error {
	s.mu.Lock()
	s.fetchCalls++
	call := s.fetchCalls
	s.fetched = append(s.fetched, append([]string(nil), ids...))
	s.mu.Unlock()

	if call == s.fetchErrOn {
		for _, id := range ids[:min(s.deliverBeforeErr, len(ids))] {
			if err := fn(&domain.RawMessage{ServerID: id, Body: s.bodies[id]}); err != nil {
				return err
			}
		}
		return errors.New("connection reset")
	}
	for _, id := range ids {
		body, ok := s.bodies[id]
		if !ok {
			continue
		}
		if err := fn(&domain.RawMessage{ServerID: id, Body: body, InternalDate: s.dates[id]}); err != nil {
			return err
		}
	}
	for _, raw := range s.extra {
		if err := fn(raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	sess  *fakeSession
	err   error
	calls int
	last  *domain.SessionConfig
}

func (d *fakeDialer) Dial(_ context.Context, cfg *domain.SessionConfig) (out.MailboxSession, error) {
	d.calls++
	d.last = cfg
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

type fakeStore struct {
	mu         sync.Mutex
	batches    [][]*domain.MessageRecord
	failOnCall int
	calls      int
}

func (s *fakeStore) InsertMany(_ context.Context, records []*domain.MessageRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == s.failOnCall {
		return 0, errors.New("write concern error")
	}
	s.batches = append(s.batches, records)
	return len(records), nil
}

func (s *fakeStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type countingObserver struct {
	mu        sync.Mutex
	processed int
	batches   []int
	completed []*domain.SyncResult
}

func (o *countingObserver) MessageProcessed() {
	o.mu.Lock()
	o.processed++
	o.mu.Unlock()
}

func (o *countingObserver) BatchCompleted(_ int, saved int) {
	o.mu.Lock()
	o.batches = append(o.batches, saved)
	o.mu.Unlock()
}

func (o *countingObserver) RunCompleted(result *domain.SyncResult) {
	o.mu.Lock()
	o.completed = append(o.completed, result)
	o.mu.Unlock()
}

type recordingMetrics struct {
	mu       sync.Mutex
	failures []string
	runs     int
}

func (m *recordingMetrics) ObserveRun(int64, int) {
	m.mu.Lock()
	m.runs++
	m.mu.Unlock()
}
func (m *recordingMetrics) ObserveBatch(int, int, int, time.Duration) {}
func (m *recordingMetrics) ObserveFailure(code string) {
	m.mu.Lock()
	m.failures = append(m.failures, code)
	m.mu.Unlock()
}

// stepClock advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}
