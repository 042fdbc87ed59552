// Package stats maintains sliding windows of request outcomes. The health
// handler reads them to decide between healthy, overloaded, idle and degraded.
package stats

import (
	"sync"
	"time"
)

// Outcome classifies one finished request.
type Outcome int

const (
	// Served means the request produced a weather response (cached or fresh).
	Served Outcome = iota
	// Denied means the request was rejected by a rate limiter (429).
	Denied
	// Errored means the upstream fetch failed.
	Errored
)

// retention bounds how long timestamps are kept regardless of query windows.
const retention = 30 * time.Minute

// Tracker records outcome timestamps and answers windowed counts.
// One instance is shared by the HTTP layer and the health handler; tests
// create their own.
type Tracker struct {
	mu    sync.Mutex
	times map[Outcome][]time.Time
	now   func() time.Time
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		times: make(map[Outcome][]time.Time),
		now:   time.Now,
	}
}

// SetClock overrides the tracker's time source. For tests only.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Record notes one outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// RequestCount returns all outcomes (served + denied + errored) within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return t.countLocked(Served, cutoff) + t.countLocked(Denied, cutoff) + t.countLocked(Errored, cutoff)
}

// DenialCount returns rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked(Denied, t.now().Add(-window))
}

// ErrorRate returns (errors, total) within the window, where total counts
// served and errored outcomes. Denials are excluded: a shed request says
// nothing about upstream health.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	e := t.countLocked(Errored, cutoff)
	s := t.countLocked(Served, cutoff)
	return e, e + s
}

// Reset clears all recorded outcomes. For tests only.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = make(map[Outcome][]time.Time)
}

func (t *Tracker) countLocked(o Outcome, cutoff time.Time) int {
	n := 0
	for _, ts := range t.times[o] {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than the retention horizon. Must be
// called with the mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for o, ts := range t.times {
		i := 0
		for ; i < len(ts) && ts[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(ts[:0], ts[i:]...)
		}
	}
}
