package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(limit int, window time.Duration) (*Limiter, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(limit, window)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterAllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("u1"), "call %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("u1"))
}

func TestLimiterRejectionDoesNotExtendWindow(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)

	require.True(t, l.Allow("u1"))
	require.True(t, l.Allow("u1"))

	// hammer while saturated; rejections must not be recorded
	for i := 0; i < 10; i++ {
		*now = now.Add(5 * time.Second)
		assert.False(t, l.Allow("u1"))
	}

	// 61s after the first allowed call it has left the window
	*now = now.Add(11 * time.Second)
	assert.True(t, l.Allow("u1"))
}

func TestLimiterTrailingWindow(t *testing.T) {
	l, now := newTestLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("u1"))
		*now = now.Add(10 * time.Second)
	}
	// 50s elapsed, oldest stamp is 50s old, still inside the window
	assert.False(t, l.Allow("u1"))

	*now = now.Add(10 * time.Second)
	// oldest stamp is now 60s old and pruned
	assert.True(t, l.Allow("u1"))
}

func TestLimiterIsolatesUsers(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	assert.True(t, l.Allow("u1"))
	assert.False(t, l.Allow("u1"))
	assert.True(t, l.Allow("u2"))
}

func TestLimiterSweep(t *testing.T) {
	l, now := newTestLimiter(5, time.Minute)

	require.True(t, l.Allow("u1"))
	require.True(t, l.Allow("u2"))

	*now = now.Add(2 * time.Minute)
	l.Sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.users)
}

func newTestDedup(grace time.Duration) (*Dedup, *[]func()) {
	d := NewDedup(grace)
	pending := &[]func(){}
	d.afterFunc = func(_ time.Duration, fn func()) *time.Timer {
		*pending = append(*pending, fn)
		return nil
	}
	return d, pending
}

func TestDedupBlocksWhileInFlight(t *testing.T) {
	d, _ := newTestDedup(5 * time.Minute)

	assert.True(t, d.Acquire("u1_https://example.com/a"))
	assert.False(t, d.Acquire("u1_https://example.com/a"))
	assert.True(t, d.Acquire("u2_https://example.com/a"))
}

func TestDedupBlocksDuringGrace(t *testing.T) {
	d, pending := newTestDedup(5 * time.Minute)

	require.True(t, d.Acquire("fp"))
	d.Release("fp")

	// timer scheduled but not fired: still inside the grace period
	assert.False(t, d.Acquire("fp"))

	for _, fn := range *pending {
		fn()
	}
	assert.True(t, d.Acquire("fp"))
}

func TestDedupStaleTimerDoesNotEvictNewEntry(t *testing.T) {
	d, pending := newTestDedup(5 * time.Minute)

	require.True(t, d.Acquire("fp"))
	d.Release("fp")

	first := (*pending)[0]
	first() // grace elapses

	require.True(t, d.Acquire("fp"))
	first() // stale timer from the first generation fires again

	assert.False(t, d.Acquire("fp"), "second acquisition must survive the stale timer")
}

func TestDedupReleaseUnknownFingerprint(t *testing.T) {
	d, pending := newTestDedup(time.Minute)

	d.Release("never-acquired")
	assert.Empty(t, *pending)
}

func TestDedupSweepDropsAbandonedEntries(t *testing.T) {
	d, _ := newTestDedup(time.Minute)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	require.True(t, d.Acquire("abandoned"))

	now = now.Add(31 * time.Minute)
	d.Sweep()

	assert.Equal(t, 0, d.Len())
	assert.True(t, d.Acquire("abandoned"))
}
