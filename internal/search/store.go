package search

import (
	"sync"

	"animesearch/internal/domain"
)

// State is a point-in-time view of a search session.
type State struct {
	Version         uint64                 `json:"version"`
	Query           string                 `json:"query"`
	Page            int                    `json:"page"`
	Filters         domain.Filters         `json:"filters"`
	FilterPanelOpen bool                   `json:"filterPanelOpen"`
	Phase           Phase                  `json:"phase"`
	Loading         bool                   `json:"loading"`
	Error           string                 `json:"error,omitempty"`
	Display         *domain.SearchResult   `json:"display,omitempty"`
	Stale           *domain.SearchResult   `json:"stale,omitempty"`
	CachedCriteria  *domain.SearchCriteria `json:"cachedCriteria,omitempty"`
}

// Criteria is the normalized search identity of the state.
func (s State) Criteria() domain.SearchCriteria {
	return domain.NewSearchCriteria(s.Query, s.Page, s.Filters)
}

// LastPage is the last visible page of the result valid for the current
// criteria, or 0. A stale backdrop belongs to other criteria and does not
// bound navigation.
func (s State) LastPage() int {
	if s.Display == nil {
		return 0
	}
	return s.Display.Pagination.LastVisiblePage
}

// Store is the search state container. Actions mutate the state and hand
// the resulting criteria to the orchestrator; the orchestrator reports back
// through the observer methods.
type Store struct {
	// dispatchMu keeps criteria reaching the orchestrator in action order.
	dispatchMu sync.Mutex

	mu        sync.Mutex
	query     string
	page      int
	filters   domain.Filters
	panelOpen bool
	phase     Phase
	loading   bool
	lastErr   error
	version   uint64
	closed    bool
	subs      map[uint64]chan State
	nextSub   uint64

	cache *ResultCache
	orch  *Orchestrator
}

func NewStore(searcher Searcher, opts ...OrchestratorOption) *Store {
	s := &Store{
		page:  domain.DefaultPage,
		phase: PhaseIdle,
		subs:  make(map[uint64]chan State),
		cache: NewResultCache(),
	}
	opts = append(opts, WithObserver(storeObserver{s}))
	s.orch = NewOrchestrator(searcher, s.cache, opts...)
	return s
}

func (s *Store) Cache() *ResultCache {
	return s.cache
}

// Start runs the initial search for the default criteria.
func (s *Store) Start() {
	s.dispatch(func() bool { return true })
}

func (s *Store) SetQuery(query string) {
	s.dispatch(func() bool {
		s.query = query
		s.page = domain.DefaultPage
		return false
	})
}

func (s *Store) SetPage(page int) error {
	if err := ValidatePageJump(page, 0); err != nil {
		return err
	}
	s.dispatch(func() bool {
		s.page = page
		return false
	})
	return nil
}

// JumpToPage validates page against the result currently on screen first.
func (s *Store) JumpToPage(page int) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	last := s.stateLocked().LastPage()
	s.mu.Unlock()
	if err := ValidatePageJump(page, last); err != nil {
		return err
	}
	s.dispatchLocked(func() bool {
		s.page = page
		return false
	})
	return nil
}

func (s *Store) SetTypeFilter(value domain.AnimeType) {
	s.dispatch(func() bool {
		s.filters.Type = value
		s.page = domain.DefaultPage
		return false
	})
}

func (s *Store) SetStatusFilter(value domain.AnimeStatus) {
	s.dispatch(func() bool {
		s.filters.Status = value
		s.page = domain.DefaultPage
		return false
	})
}

func (s *Store) SetRatingFilter(value domain.AnimeRating) {
	s.dispatch(func() bool {
		s.filters.Rating = value
		s.page = domain.DefaultPage
		return false
	})
}

// SetFilters replaces all three filters at once.
func (s *Store) SetFilters(filters domain.Filters) {
	s.dispatch(func() bool {
		s.filters = filters
		s.page = domain.DefaultPage
		return false
	})
}

func (s *Store) ClearFilters() {
	s.SetFilters(domain.Filters{})
}

func (s *Store) ToggleFilterPanel() {
	s.dispatch(func() bool {
		s.panelOpen = !s.panelOpen
		return false
	})
}

// ApplyFilters fetches the current criteria immediately.
func (s *Store) ApplyFilters() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	criteria, ok := s.currentCriteria()
	if !ok {
		return
	}
	s.orch.FetchNow(criteria)
}

// Retry re-enters the normal criteria pipeline from scratch.
func (s *Store) Retry() {
	s.dispatch(func() bool { return true })
}

// Reset returns every field to its default and empties the cache.
func (s *Store) Reset() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	criteria, ok := s.apply(func() bool {
		s.query = ""
		s.page = domain.DefaultPage
		s.filters = domain.Filters{}
		s.panelOpen = false
		s.lastErr = nil
		return true
	})
	if ok {
		s.orch.Reset(criteria)
	}
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// LastError is the failure currently surfaced, if any.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers skip intermediate versions. The channel is closed by cancel or
// by Close.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.stateLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Close tears down the orchestrator and ends all subscriptions.
func (s *Store) Close() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	// The orchestrator may be inside an observer callback that needs s.mu.
	s.orch.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.loading = false
	s.phase = PhaseIdle
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// dispatch applies mutate and forwards the new criteria when they changed
// or when mutate asks for it.
func (s *Store) dispatch(mutate func() (force bool)) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.dispatchLocked(mutate)
}

// dispatchLocked is dispatch for callers already holding dispatchMu.
func (s *Store) dispatchLocked(mutate func() (force bool)) {
	if criteria, forward := s.apply(mutate); forward {
		s.orch.OnCriteriaChange(criteria)
	}
}

// apply runs mutate under s.mu, publishes the new state and reports the
// resulting criteria and whether they need to reach the orchestrator.
func (s *Store) apply(mutate func() (force bool)) (domain.SearchCriteria, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.SearchCriteria{}, false
	}
	before := s.criteriaLocked()
	force := mutate()
	after := s.criteriaLocked()
	s.version++
	s.broadcastLocked()
	return after, force || !before.Equal(after)
}

func (s *Store) currentCriteria() (domain.SearchCriteria, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.criteriaLocked(), !s.closed
}

func (s *Store) criteriaLocked() domain.SearchCriteria {
	return domain.NewSearchCriteria(s.query, s.page, s.filters)
}

func (s *Store) stateLocked() State {
	state := State{
		Version:         s.version,
		Query:           s.query,
		Page:            s.page,
		Filters:         s.filters,
		FilterPanelOpen: s.panelOpen,
		Phase:           s.phase,
		Loading:         s.loading,
	}
	if s.lastErr != nil {
		state.Error = s.lastErr.Error()
	}
	if cachedCriteria, result, valid, ok := s.cache.view(s.criteriaLocked()); ok {
		state.CachedCriteria = &cachedCriteria
		if valid {
			state.Display = &result
		} else {
			state.Stale = &result
		}
	}
	return state
}

func (s *Store) broadcastLocked() {
	if len(s.subs) == 0 {
		return
	}
	state := s.stateLocked()
	for _, ch := range s.subs {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- state
		}
	}
}

// storeObserver keeps the observer methods off the Store's public API.
type storeObserver struct {
	s *Store
}

func (o storeObserver) FetchScheduled(domain.SearchCriteria) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	o.s.phase = PhaseDebouncing
	o.s.version++
	o.s.broadcastLocked()
}

func (o storeObserver) FetchStarted(domain.SearchCriteria) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	o.s.phase = PhaseInFlight
	o.s.loading = true
	o.s.lastErr = nil
	o.s.version++
	o.s.broadcastLocked()
}

func (o storeObserver) FetchSettled(outcome domain.Outcome) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	o.s.phase = PhaseIdle
	o.s.loading = false
	switch outcome.Kind {
	case domain.OutcomeSuccess, domain.OutcomeCached:
		o.s.lastErr = nil
	case domain.OutcomeError:
		o.s.lastErr = outcome.Err
	}
	o.s.version++
	o.s.broadcastLocked()
}
