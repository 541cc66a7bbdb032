// Package ratelimit bounds repeated command invocations per user and
// suppresses duplicate concurrent requests for the same (user, resource)
// pair. Both structures are in-memory only and reset on restart.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter keeps a trailing window of invocation timestamps per user. A call
// is allowed and recorded while fewer than limit timestamps remain inside
// the window; otherwise it is rejected without recording.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	users  map[string][]time.Time
	now    func() time.Time
}

func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		users:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (l *Limiter) Allow(user string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	valid := prune(l.users[user], now, l.window)

	if len(valid) >= l.limit {
		l.users[user] = valid
		return false
	}

	l.users[user] = append(valid, now)
	return true
}

// Sweep drops users whose whole window has elapsed. Allow already prunes
// lazily per user; the sweep keeps the map bounded across many distinct users.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for user, stamps := range l.users {
		valid := prune(stamps, now, l.window)
		if len(valid) == 0 {
			delete(l.users, user)
		} else {
			l.users[user] = valid
		}
	}
}

func prune(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	valid := stamps[:0]
	for _, t := range stamps {
		if now.Sub(t) < window {
			valid = append(valid, t)
		}
	}
	return valid
}

type dedupEntry struct {
	created    time.Time
	generation uint64
}

// Dedup blocks concurrent identical requests by fingerprint. The caller must
// Release the fingerprint after handling completes (success or failure);
// removal then happens once the grace period elapses, absorbing near-duplicate
// user taps. A generation counter guarantees an entry is removed exactly once
// even if Release races the background sweep.
type Dedup struct {
	mu         sync.Mutex
	grace      time.Duration
	maxAge     time.Duration
	entries    map[string]dedupEntry
	generation uint64
	now        func() time.Time
	afterFunc  func(time.Duration, func()) *time.Timer
}

func NewDedup(grace time.Duration) *Dedup {
	return &Dedup{
		grace: grace,
		// backstop: a handler that never calls Release must not leak forever
		maxAge:    30 * time.Minute,
		entries:   make(map[string]dedupEntry),
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// Acquire reserves the fingerprint. It returns false when an identical
// request is already in flight or still inside its grace period.
func (d *Dedup) Acquire(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.entries[fingerprint]; exists {
		return false
	}

	d.generation++
	d.entries[fingerprint] = dedupEntry{created: d.now(), generation: d.generation}
	return true
}

// Release schedules removal of the fingerprint after the grace period. Only
// the generation acquired at call time is removed, so a fingerprint
// re-acquired after expiry is never deleted by a stale timer.
func (d *Dedup) Release(fingerprint string) {
	d.mu.Lock()
	entry, exists := d.entries[fingerprint]
	d.mu.Unlock()
	if !exists {
		return
	}

	gen := entry.generation
	d.afterFunc(d.grace, func() {
		d.remove(fingerprint, gen)
	})
}

func (d *Dedup) remove(fingerprint string, generation uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, exists := d.entries[fingerprint]; exists && entry.generation == generation {
		delete(d.entries, fingerprint)
	}
}

// Sweep removes entries older than the backstop age.
func (d *Dedup) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for fingerprint, entry := range d.entries {
		if now.Sub(entry.created) >= d.maxAge {
			delete(d.entries, fingerprint)
		}
	}
}

func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
