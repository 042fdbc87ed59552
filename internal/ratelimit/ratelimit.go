// Package ratelimit implements a per-caller fixed-window rate limiter for the
// upstream fetch path. Each caller gets at most limit acquisitions per period;
// the window resets when the current time passes windowStart+period.
//
// Fixed windows admit up to 2x limit across a window boundary (end of one
// window plus start of the next). That is an accepted trade-off of the scheme,
// not a bug; the tests document it.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

// Decision is the outcome of one TryAcquire call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

const shardCount = 16

// Limiter tracks one fixed window per caller. Windows for distinct callers
// live in separate shards so they do not contend on a single lock.
type Limiter struct {
	limit  int
	period time.Duration
	shards [shardCount]*limiterShard
	now    func() time.Time
}

type limiterShard struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

// New creates a Limiter allowing limit acquisitions per caller per period.
func New(limit int, period time.Duration) *Limiter {
	l := &Limiter{limit: limit, period: period, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &limiterShard{windows: make(map[string]*window)}
	}
	return l
}

// SetClock overrides the limiter's time source. For tests only.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Limiter) shardFor(callerID string) *limiterShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(callerID))
	return l.shards[h.Sum32()%shardCount]
}

// TryAcquire charges one acquisition against callerID's current window.
// A missing or expired window starts fresh with count 1 and allows. Within an
// active window the count is incremented while below the limit; at the limit
// the call is denied and RetryAfter reports the time until the window resets.
// Updates to the same caller are serialized by the shard lock, so concurrent
// acquisitions at a window boundary cannot lose or double-count increments.
func (l *Limiter) TryAcquire(callerID string) Decision {
	now := l.now()
	s := l.shardFor(callerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[callerID]
	if !ok || !now.Before(w.start.Add(l.period)) {
		s.windows[callerID] = &window{start: now, count: 1}
		return Decision{Allowed: true, Remaining: l.limit - 1}
	}

	if w.count < l.limit {
		w.count++
		return Decision{Allowed: true, Remaining: l.limit - w.count}
	}

	return Decision{
		Allowed:    false,
		RetryAfter: w.start.Add(l.period).Sub(now),
	}
}

// Sweep drops windows that expired before now. Idle callers otherwise leave
// their last window in the map forever.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for id, w := range s.windows {
			if !now.Before(w.start.Add(l.period)) {
				delete(s.windows, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Limit returns the configured per-window acquisition limit.
func (l *Limiter) Limit() int { return l.limit }

// Period returns the configured window length.
func (l *Limiter) Period() time.Duration { return l.period }
