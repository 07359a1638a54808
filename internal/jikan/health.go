package jikan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"animesearch/internal/metrics"
)

const (
	failureThreshold = 3
	blockBase        = 15 * time.Second
	blockMax         = 2 * time.Minute
)

// Health is a diagnostic snapshot of the upstream.
type Health struct {
	Available           bool       `json:"available"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs"`
	TotalRequests       int64      `json:"totalRequests"`
	TotalFailures       int64      `json:"totalFailures"`
	TimeoutCount        int64      `json:"timeoutCount"`
}

// breaker stops calling the upstream after repeated transient failures and
// backs off exponentially.
type breaker struct {
	mu                  sync.Mutex
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

func (b *breaker) blocked(now time.Time) (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blockedUntil.IsZero() || now.After(b.blockedUntil) {
		return false, time.Time{}
	}
	return true, b.blockedUntil
}

// record folds one finished call into the state. Cancellations and
// definitive answers such as 404 do not count against the upstream.
func (b *breaker) record(err error, latency time.Duration, now time.Time) {
	if errors.Is(err, context.Canceled) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	if latency > 0 {
		b.lastLatency = latency
	}
	if isTimeoutLikeError(err) {
		b.timeoutCount++
	}

	if err == nil || !isTransientError(err) {
		b.consecutiveFailures = 0
		b.blockedUntil = time.Time{}
		if err == nil {
			b.lastError = ""
			b.lastSuccessAt = now
		}
		metrics.UpstreamAvailable.Set(1)
		return
	}

	b.consecutiveFailures++
	b.totalFailures++
	b.lastFailureAt = now
	b.lastError = err.Error()
	if b.consecutiveFailures >= failureThreshold {
		b.blockedUntil = now.Add(exponentialBlockDuration(b.consecutiveFailures))
		metrics.UpstreamAvailable.Set(0)
	}
}

func (b *breaker) snapshot(now time.Time) Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := Health{
		Available:           b.blockedUntil.IsZero() || now.After(b.blockedUntil),
		ConsecutiveFailures: b.consecutiveFailures,
		LastError:           b.lastError,
		LastLatencyMS:       b.lastLatency.Milliseconds(),
		TotalRequests:       b.totalRequests,
		TotalFailures:       b.totalFailures,
		TimeoutCount:        b.timeoutCount,
	}
	if !b.blockedUntil.IsZero() {
		until := b.blockedUntil
		h.BlockedUntil = &until
	}
	if !b.lastSuccessAt.IsZero() {
		at := b.lastSuccessAt
		h.LastSuccessAt = &at
	}
	if !b.lastFailureAt.IsZero() {
		at := b.lastFailureAt
		h.LastFailureAt = &at
	}
	return h
}

// exponentialBlockDuration is blockBase × 2^(failures - threshold), capped
// at blockMax.
func exponentialBlockDuration(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - failureThreshold
	if exponent < 0 {
		exponent = 0
	}
	d := blockBase
	for i := 0; i < exponent; i++ {
		d *= 2
		if d > blockMax {
			return blockMax
		}
	}
	return d
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}
