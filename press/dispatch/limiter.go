package dispatch

import (
	"sync"
	"time"

	"github.com/gridironlabs/pressbox/errors"
)

// Limiter enforces max generation calls per minute using a sliding window.
// The work pass consults it before claiming a job; a saturated limiter
// ends the pass for that tick and leaves the remaining jobs pending.
type Limiter struct {
	maxCallsPerMinute int
	window            time.Duration
	mu                sync.Mutex
	callTimes         []time.Time
	timeNow           func() time.Time
}

// NewLimiter creates a rate limiter with real time
func NewLimiter(maxCallsPerMinute int) *Limiter {
	return NewLimiterWithClock(maxCallsPerMinute, time.Now)
}

// NewLimiterWithClock creates a rate limiter with injectable clock (for testing)
func NewLimiterWithClock(maxCallsPerMinute int, timeNow func() time.Time) *Limiter {
	return &Limiter{
		maxCallsPerMinute: maxCallsPerMinute,
		window:            60 * time.Second,
		callTimes:         make([]time.Time, 0, maxCallsPerMinute),
		timeNow:           timeNow,
	}
}

// Allow checks if a generation call is allowed under the rate limit and
// records it. Returns an error when the window is saturated. A limit of
// zero or less disables rate limiting.
func (r *Limiter) Allow() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxCallsPerMinute <= 0 {
		return nil
	}

	now := r.timeNow()
	r.removeExpiredCalls(now)

	if len(r.callTimes) >= r.maxCallsPerMinute {
		err := errors.Newf("generation rate limit exceeded: %d calls per minute (limit: %d)",
			len(r.callTimes), r.maxCallsPerMinute)
		return errors.WithDetailf(err, "Calls in window: %d", len(r.callTimes))
	}

	r.callTimes = append(r.callTimes, now)
	return nil
}

// SetLimit updates the per-minute limit, used by config live reload
func (r *Limiter) SetLimit(maxCallsPerMinute int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxCallsPerMinute = maxCallsPerMinute
}

// Stats returns calls in the current window and remaining capacity
func (r *Limiter) Stats() (callsInWindow int, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeExpiredCalls(r.timeNow())
	callsInWindow = len(r.callTimes)
	remaining = r.maxCallsPerMinute - callsInWindow
	if remaining < 0 {
		remaining = 0
	}
	return callsInWindow, remaining
}

// removeExpiredCalls drops timestamps outside the sliding window.
// Must be called with lock held; timestamps are ordered.
func (r *Limiter) removeExpiredCalls(now time.Time) {
	cutoff := now.Add(-r.window)
	expired := 0
	for _, callTime := range r.callTimes {
		if !callTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}
	r.callTimes = r.callTimes[expired:]
}
