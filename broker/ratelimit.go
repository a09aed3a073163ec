// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync"
	"time"

	"github.com/bureau-foundation/deskbroker/lib/clock"
)

// rateLimiter is a sliding-window limit on connection attempts per
// identity key. State is in memory only.
type rateLimiter struct {
	clock       clock.Clock
	maxAttempts int
	window      time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newRateLimiter(clk clock.Clock, maxAttempts int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		clock:       clk,
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[string][]time.Time),
	}
}

// Allow records an attempt for key and reports whether it is within
// the limit. Rejected attempts are not recorded, so a client that
// backs off for one window is admitted again.
func (r *rateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	recent := r.recentLocked(key, now)
	if len(recent) >= r.maxAttempts {
		r.attempts[key] = recent
		return false
	}
	r.attempts[key] = append(recent, now)
	return true
}

// recentLocked returns the attempts for key still inside the window,
// in a fresh slice so the old backing array can be collected.
func (r *rateLimiter) recentLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.attempts[key]
	recent := make([]time.Time, 0, len(existing)+1)
	for _, attempt := range existing {
		if attempt.After(cutoff) {
			recent = append(recent, attempt)
		}
	}
	return recent
}

// Prune drops identities whose attempts have all aged out.
func (r *rateLimiter) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for key := range r.attempts {
		if len(r.recentLocked(key, now)) == 0 {
			delete(r.attempts, key)
		}
	}
}

// Reset forgets every attempt for key.
func (r *rateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, key)
}

// tracked reports how many identities have state.
func (r *rateLimiter) tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}
