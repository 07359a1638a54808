package search

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"animesearch/internal/domain"
)

// manualClock fires timers only when the test advances it.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &manualTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, timer)
	return timer
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired && timer.at <= c.now {
			timer.fired = true
			due = append(due, timer)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, timer := range due {
		timer.f()
	}
}

type fakeReply struct {
	result domain.SearchResult
	err    error
}

type fakeCall struct {
	ctx    context.Context
	params domain.SearchParams
	reply  chan fakeReply
}

// blockingSearcher hands every call to the test and waits for a reply. It
// ignores ctx on purpose, like a transport that resolves after an abort.
type blockingSearcher struct {
	calls chan fakeCall
}

func newBlockingSearcher() *blockingSearcher {
	return &blockingSearcher{calls: make(chan fakeCall, 16)}
}

func (s *blockingSearcher) SearchAnime(ctx context.Context, params domain.SearchParams) (domain.SearchResult, error) {
	call := fakeCall{ctx: ctx, params: params, reply: make(chan fakeReply, 1)}
	s.calls <- call
	reply := <-call.reply
	return reply.result, reply.err
}

func (s *blockingSearcher) waitCall(t *testing.T) fakeCall {
	t.Helper()
	select {
	case call := <-s.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("expected a search call")
		return fakeCall{}
	}
}

func (s *blockingSearcher) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case call := <-s.calls:
		t.Fatalf("unexpected search call: %+v", call.params)
	case <-time.After(50 * time.Millisecond):
	}
}

type observedEvent struct {
	kind     string
	criteria domain.SearchCriteria
	outcome  domain.Outcome
}

type recordingObserver struct {
	events chan observedEvent
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{events: make(chan observedEvent, 64)}
}

func (r *recordingObserver) FetchScheduled(criteria domain.SearchCriteria) {
	r.events <- observedEvent{kind: "scheduled", criteria: criteria}
}

func (r *recordingObserver) FetchStarted(criteria domain.SearchCriteria) {
	r.events <- observedEvent{kind: "started", criteria: criteria}
}

func (r *recordingObserver) FetchSettled(outcome domain.Outcome) {
	r.events <- observedEvent{kind: string(outcome.Kind), criteria: outcome.Criteria, outcome: outcome}
}

// waitFor skips events until one of the given kind arrives.
func (r *recordingObserver) waitFor(t *testing.T, kind string) observedEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-r.events:
			if event.kind == kind {
				return event
			}
		case <-deadline:
			t.Fatalf("expected %s event", kind)
			return observedEvent{}
		}
	}
}

// drain returns every event already delivered.
func (r *recordingObserver) drain() []observedEvent {
	var events []observedEvent
	for {
		select {
		case event := <-r.events:
			events = append(events, event)
		default:
			return events
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func resultFor(query string, page int) domain.SearchResult {
	return domain.SearchResult{
		Data: []domain.Anime{{MalID: page, Title: query}},
		Pagination: domain.Pagination{
			LastVisiblePage: 10,
			HasNextPage:     page < 10,
			CurrentPage:     page,
			Items:           domain.PaginationItems{Count: 1, Total: 250, PerPage: 25},
		},
	}
}

func criteria(query string) domain.SearchCriteria {
	return domain.NewSearchCriteria(query, 1, domain.Filters{})
}
