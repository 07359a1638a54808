package domain

type OutcomeKind string

const (
	// OutcomeSuccess is a fresh result that has been written to the cache.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeCached means the cache already answered the criteria; no call was made.
	OutcomeCached OutcomeKind = "cached"
	// OutcomeCancelled is a superseded or torn down request. Never shown as an error.
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeError     OutcomeKind = "error"
)

// Outcome is how a search attempt resolved.
type Outcome struct {
	Kind     OutcomeKind
	Criteria SearchCriteria
	Result   SearchResult
	Err      error
}
