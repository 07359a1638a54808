package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"animesearch/internal/domain"
	"animesearch/internal/metrics"
)

const DefaultDebounce = 250 * time.Millisecond

// Searcher is the remote search capability. Implementations must honor ctx
// cancellation; the orchestrator re-checks it anyway before using a result.
type Searcher interface {
	SearchAnime(ctx context.Context, params domain.SearchParams) (domain.SearchResult, error)
}

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseDebouncing Phase = "debouncing"
	PhaseInFlight   Phase = "in_flight"
)

// Observer is notified while the orchestrator lock is held, so events arrive
// in order. Implementations must not call back into the orchestrator.
type Observer interface {
	FetchScheduled(criteria domain.SearchCriteria)
	FetchStarted(criteria domain.SearchCriteria)
	FetchSettled(outcome domain.Outcome)
}

type pendingRequest struct {
	seq      uint64
	criteria domain.SearchCriteria
	ctx      context.Context
	cancel   context.CancelFunc
}

// Orchestrator decides, for every criteria change, whether to answer from
// the cache, wait out the debounce window, or call the remote search.
// At most one timer and one request exist at a time; a newer change always
// cancels the older one before anything else happens.
type Orchestrator struct {
	searcher Searcher
	cache    *ResultCache
	clock    Clock
	delay    time.Duration
	limit    int
	logger   *slog.Logger
	observer Observer

	wg sync.WaitGroup

	mu      sync.Mutex
	seq     uint64
	timer   Timer
	pending *pendingRequest
	phase   Phase
	closed  bool
}

type OrchestratorOption func(*Orchestrator)

func WithDebounce(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if delay >= 0 {
			o.delay = delay
		}
	}
}

func WithPageLimit(limit int) OrchestratorOption {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.limit = limit
		}
	}
}

func WithClock(clock Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithObserver(observer Observer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}

func NewOrchestrator(searcher Searcher, cache *ResultCache, opts ...OrchestratorOption) *Orchestrator {
	if cache == nil {
		cache = NewResultCache()
	}
	o := &Orchestrator{
		searcher: searcher,
		cache:    cache,
		clock:    SystemClock,
		delay:    DefaultDebounce,
		limit:    domain.DefaultLimit,
		logger:   slog.Default(),
		phase:    PhaseIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Cache() *ResultCache {
	return o.cache
}

func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// OnCriteriaChange is invoked for every observable change of query, page or
// filters.
func (o *Orchestrator) OnCriteriaChange(criteria domain.SearchCriteria) {
	criteria = criteria.Normalize()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.changeLocked(criteria)
}

// Reset empties the cache and drops pending work in one step, then
// schedules a search for criteria. A request that resolves concurrently is
// either stored before the clear or discarded after it.
func (o *Orchestrator) Reset(criteria domain.SearchCriteria) {
	criteria = criteria.Normalize()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.cache.Clear()
	o.cancelLocked(true)
	o.changeLocked(criteria)
}

func (o *Orchestrator) changeLocked(criteria domain.SearchCriteria) {
	if result, ok := o.cache.lookup(criteria); ok {
		// Work for some other criteria must not land on top of the cached view.
		o.cancelLocked(true)
		metrics.OrchestratorDecisionsTotal.WithLabelValues("cache_hit").Inc()
		o.notifySettledLocked(domain.Outcome{Kind: domain.OutcomeCached, Criteria: criteria, Result: result})
		return
	}

	o.cancelLocked(true)
	o.seq++
	seq := o.seq
	o.phase = PhaseDebouncing
	o.timer = o.clock.AfterFunc(o.delay, func() {
		o.fire(seq, criteria)
	})
	metrics.OrchestratorDecisionsTotal.WithLabelValues("debounce").Inc()
	if o.observer != nil {
		o.observer.FetchScheduled(criteria)
	}
}

// FetchNow skips both the debounce window and the cache check. Used for
// explicit user actions such as applying filters.
func (o *Orchestrator) FetchNow(criteria domain.SearchCriteria) {
	criteria = criteria.Normalize()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.cancelLocked(true)
	o.seq++
	metrics.OrchestratorDecisionsTotal.WithLabelValues("immediate").Inc()
	o.dispatchLocked(o.seq, criteria)
}

// Close stops the debounce timer and aborts the in-flight request. No
// observer callback fires once Close has returned.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.cancelLocked(false)
}

// Wait blocks until every dispatched request has settled or been discarded.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) fire(seq uint64, criteria domain.SearchCriteria) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || seq != o.seq || o.phase != PhaseDebouncing {
		return
	}
	o.timer = nil
	o.dispatchLocked(seq, criteria)
}

func (o *Orchestrator) dispatchLocked(seq uint64, criteria domain.SearchCriteria) {
	ctx, cancel := context.WithCancel(context.Background())
	req := &pendingRequest{seq: seq, criteria: criteria, ctx: ctx, cancel: cancel}
	o.pending = req
	o.phase = PhaseInFlight
	metrics.OrchestratorDecisionsTotal.WithLabelValues("dispatch").Inc()
	o.logger.Debug("search dispatched", slog.String("criteria", criteria.String()))
	if o.observer != nil {
		o.observer.FetchStarted(criteria)
	}
	o.wg.Add(1)
	go o.run(req)
}

// cancelLocked discards the debounce timer and signals the pending request.
// When report is set, a cancelled outcome is published so that observers
// can clear their loading state before the next request starts.
func (o *Orchestrator) cancelLocked(report bool) {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
		metrics.OrchestratorDecisionsTotal.WithLabelValues("superseded").Inc()
	}
	if o.pending != nil {
		req := o.pending
		o.pending = nil
		req.cancel()
		o.logger.Debug("search cancelled", slog.String("criteria", req.criteria.String()))
		if report {
			o.notifySettledLocked(domain.Outcome{Kind: domain.OutcomeCancelled, Criteria: req.criteria})
		} else {
			metrics.FetchOutcomesTotal.WithLabelValues(string(domain.OutcomeCancelled)).Inc()
		}
	}
	o.phase = PhaseIdle
}

func (o *Orchestrator) run(req *pendingRequest) {
	defer o.wg.Done()
	ctx, span := otel.Tracer("animesearch/search").Start(req.ctx, "search.fetch")
	span.SetAttributes(
		attribute.String("search.query", req.criteria.Query),
		attribute.Int("search.page", req.criteria.Page),
	)
	defer span.End()

	start := time.Now()
	result, err := o.call(ctx, req.criteria)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil && !IsCancelled(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.settle(req, result, err)
}

func (o *Orchestrator) call(ctx context.Context, criteria domain.SearchCriteria) (result domain.SearchResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("search panicked: %v", recovered)
		}
	}()
	if o.searcher == nil {
		return domain.SearchResult{}, errors.New("search backend is not configured")
	}
	return o.searcher.SearchAnime(ctx, criteria.Params(o.limit))
}

func (o *Orchestrator) settle(req *pendingRequest, result domain.SearchResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer req.cancel()

	// A superseded or torn down request was already reported when it was
	// cancelled; whatever it resolved with is dropped here.
	if o.closed || o.pending != req || req.ctx.Err() != nil {
		o.logger.Debug("late search response discarded", slog.String("criteria", req.criteria.String()))
		return
	}
	o.pending = nil
	o.phase = PhaseIdle

	switch {
	case err == nil:
		o.cache.Store(req.criteria, result)
		o.notifySettledLocked(domain.Outcome{Kind: domain.OutcomeSuccess, Criteria: req.criteria, Result: result})
	case IsCancelled(err):
		o.notifySettledLocked(domain.Outcome{Kind: domain.OutcomeCancelled, Criteria: req.criteria})
	default:
		o.logger.Warn("search failed",
			slog.String("criteria", req.criteria.String()),
			slog.String("error", err.Error()),
		)
		o.notifySettledLocked(domain.Outcome{Kind: domain.OutcomeError, Criteria: req.criteria, Err: err})
	}
}

func (o *Orchestrator) notifySettledLocked(outcome domain.Outcome) {
	metrics.FetchOutcomesTotal.WithLabelValues(string(outcome.Kind)).Inc()
	if o.observer != nil {
		o.observer.FetchSettled(outcome)
	}
}

// IsCancelled reports whether err means "abandoned" rather than "failed".
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
