package search

import (
	"sync"

	"animesearch/internal/domain"
	"animesearch/internal/metrics"
)

// ResultCache holds the single most recent successful search. Capacity is
// always one, so Store simply overwrites the slot.
type ResultCache struct {
	mu       sync.RWMutex
	criteria domain.SearchCriteria
	result   domain.SearchResult
	filled   bool
}

func NewResultCache() *ResultCache {
	return &ResultCache{}
}

// IsValid reports whether the slot answers exactly this criteria. There are
// no partial matches: same query on another page is a miss.
func (c *ResultCache) IsValid(criteria domain.SearchCriteria) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filled && c.criteria.Equal(criteria)
}

func (c *ResultCache) Get() (domain.SearchResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.filled {
		return domain.SearchResult{}, false
	}
	return c.result.Clone(), true
}

func (c *ResultCache) Criteria() (domain.SearchCriteria, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.criteria, c.filled
}

// lookup returns the cached result only when it is valid for criteria.
func (c *ResultCache) lookup(criteria domain.SearchCriteria) (domain.SearchResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.filled || !c.criteria.Equal(criteria) {
		metrics.CacheMissesTotal.Inc()
		return domain.SearchResult{}, false
	}
	metrics.CacheHitsTotal.Inc()
	return c.result.Clone(), true
}

// view reads the whole slot at once and reports whether it is valid for
// criteria.
func (c *ResultCache) view(criteria domain.SearchCriteria) (domain.SearchCriteria, domain.SearchResult, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.filled {
		return domain.SearchCriteria{}, domain.SearchResult{}, false, false
	}
	return c.criteria, c.result.Clone(), c.criteria.Equal(criteria), true
}

func (c *ResultCache) Store(criteria domain.SearchCriteria, result domain.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criteria = criteria.Normalize()
	c.result = result.Clone()
	c.filled = true
}

func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criteria = domain.SearchCriteria{}
	c.result = domain.SearchResult{}
	c.filled = false
}
