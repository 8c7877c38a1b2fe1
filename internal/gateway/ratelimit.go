package gateway

import (
	"context"
	"sync"
	"time"
)

// Guard is the process-wide rate-limit backoff shared by everything that
// talks to the cloud. Any caller seeing a ThrottledError reports it here;
// every caller waits on the guard before its next request, so a single
// 429 pauses commands, sweeps, and polling together.
//
// The backoff window doubles with each consecutive throttle
// (base, 2*base, 4*base, ...) up to the configured cap, and a
// server-supplied Retry-After longer than the computed window wins.
// The first successful request resets the sequence.
type Guard struct {
	mu           sync.Mutex
	base         time.Duration
	max          time.Duration
	consecutive  int
	backoffUntil time.Time

	now func() time.Time // swapped in tests
}

// GuardState is a point-in-time reading of the guard, for status
// reporting.
type GuardState struct {
	Consecutive  int
	BackoffUntil time.Time
}

// NewGuard creates a guard with the given base and maximum backoff.
func NewGuard(base, max time.Duration) *Guard {
	if base <= 0 {
		base = 5 * time.Second
	}
	if max < base {
		max = base
	}
	return &Guard{base: base, max: max, now: time.Now}
}

// Wait blocks until the current backoff window has passed or ctx is
// done. It returns immediately when no backoff is active.
func (g *Guard) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		remaining := g.backoffUntil.Sub(g.now())
		g.mu.Unlock()

		if remaining <= 0 {
			return nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Re-check: another caller may have reported a fresh
			// throttle while we slept.
		}
	}
}

// RecordThrottle registers a rate-limit rejection and returns the
// backoff window that is now in force. retryAfter is the server's
// Retry-After hint; pass zero when absent.
func (g *Guard) RecordThrottle(retryAfter time.Duration) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutive++
	window := g.base << (g.consecutive - 1)
	if window > g.max || window <= 0 {
		window = g.max
	}
	if retryAfter > window {
		window = retryAfter
	}

	until := g.now().Add(window)
	if until.After(g.backoffUntil) {
		g.backoffUntil = until
	}
	return window
}

// RecordSuccess resets the consecutive-throttle counter. It does not
// shorten an active backoff window.
func (g *Guard) RecordSuccess() {
	g.mu.Lock()
	g.consecutive = 0
	g.mu.Unlock()
}

// Remaining returns how long the current backoff window has left, zero
// when none is active.
func (g *Guard) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r := g.backoffUntil.Sub(g.now()); r > 0 {
		return r
	}
	return 0
}

// State returns a snapshot of the guard for status reporting.
func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GuardState{Consecutive: g.consecutive, BackoffUntil: g.backoffUntil}
}
