package throttle

import (
	"sync"
	"time"
)

// Config tunes sweep behavior.
type Config struct {
	// SweepInterval bounds how often the lazy sweep may run.
	SweepInterval time.Duration
	// MaxIdleAge is how long a record may sit untouched before removal.
	MaxIdleAge time.Duration
}

type record struct {
	count        int
	firstAttempt time.Time
	lastAttempt  time.Time
	lockedUntil  time.Time
}

// Tracker counts failed credential checks per origin. All methods are safe
// for concurrent use; increment-then-read is atomic per origin so racing
// requests cannot slip past the threshold.
type Tracker struct {
	mu        sync.Mutex
	records   map[string]*record
	lastSweep time.Time

	config Config
	now    func() time.Time
}

// New creates a Tracker.
func New(cfg Config) *Tracker {
	return &Tracker{
		records: make(map[string]*record),
		config:  cfg,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test use only.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// RecordFailure registers a failed credential check for the origin and
// returns the new failure count.
func (t *Tracker) RecordFailure(origin string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweepLocked(now)

	r, ok := t.records[origin]
	if !ok {
		r = &record{firstAttempt: now}
		t.records[origin] = r
	}
	r.count++
	r.lastAttempt = now
	return r.count
}

// Check reports whether the origin is locked out. When a lockout is already
// active it reports the remaining time without re-deriving from the count.
// When the count has reached the threshold, this call itself activates the
// lockout: the threshold-th check triggers the lock, so callers must Check
// before attempting credential verification.
func (t *Tracker) Check(origin string, threshold int, lockout time.Duration) (blocked bool, count int, remaining time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweepLocked(now)

	r, ok := t.records[origin]
	if !ok {
		return false, 0, 0
	}

	if r.lockedUntil.After(now) {
		return true, r.count, r.lockedUntil.Sub(now)
	}
	if threshold > 0 && r.count >= threshold {
		r.lockedUntil = now.Add(lockout)
		r.lastAttempt = now
		return true, r.count, lockout
	}
	return false, r.count, 0
}

// Count returns the current failure count without side effects.
func (t *Tracker) Count(origin string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[origin]; ok {
		return r.count
	}
	return 0
}

// Clear removes the origin's record, typically after a successful login.
func (t *Tracker) Clear(origin string) {
	t.mu.Lock()
	delete(t.records, origin)
	t.mu.Unlock()
}

// Len reports the number of live records. Test use only.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// sweepLocked removes idle records at most once per SweepInterval. Caller
// holds t.mu.
func (t *Tracker) sweepLocked(now time.Time) {
	if now.Sub(t.lastSweep) < t.config.SweepInterval {
		return
	}
	t.lastSweep = now
	for origin, r := range t.records {
		if now.Sub(r.lastAttempt) > t.config.MaxIdleAge && !r.lockedUntil.After(now) {
			delete(t.records, origin)
		}
	}
}
