// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	channel  chan time.Time
	// period is zero for one-shot timers created by After.
	period  time.Duration
	stopped bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// Now returns the fake time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After registers a one-shot timer that fires when the clock is
// advanced to or past now+d.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- f.now
		return channel
	}
	f.register(&fakeTimer{deadline: f.now.Add(d), channel: channel})
	return channel
}

// NewTicker registers a periodic timer.
func (f *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker needs a positive interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	timer := &fakeTimer{
		deadline: f.now.Add(d),
		channel:  make(chan time.Time, 1),
		period:   d,
	}
	f.register(timer)
	return &Ticker{
		C: timer.channel,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			timer.stopped = true
			f.changed.Broadcast()
		},
	}
}

func (f *FakeClock) register(timer *fakeTimer) {
	f.pending = append(f.pending, timer)
	f.changed.Broadcast()
}

// Advance moves time forward by d and fires every timer whose deadline
// is at or before the new time, earliest first. A ticker spanning
// several periods fires once per period; sends never block, so ticks
// beyond the channel buffer are lost, matching time.Ticker.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	target := f.now

	var due []*fakeTimer
	for {
		next := f.popEarliestDue(target)
		if next == nil {
			break
		}
		due = append(due, next)
	}
	f.mu.Unlock()

	for _, timer := range due {
		select {
		case timer.channel <- target:
		default:
		}
	}
}

// popEarliestDue removes and returns the earliest timer due at target,
// rescheduling it first when it is periodic. Caller holds f.mu.
func (f *FakeClock) popEarliestDue(target time.Time) *fakeTimer {
	live := f.pending[:0]
	for _, timer := range f.pending {
		if !timer.stopped {
			live = append(live, timer)
		}
	}
	f.pending = live
	sort.SliceStable(f.pending, func(i, j int) bool {
		return f.pending[i].deadline.Before(f.pending[j].deadline)
	})
	if len(f.pending) == 0 || f.pending[0].deadline.After(target) {
		return nil
	}

	timer := f.pending[0]
	if timer.period > 0 {
		fired := *timer
		timer.deadline = timer.deadline.Add(timer.period)
		return &fired
	}
	f.pending = f.pending[1:]
	return timer
}

// WaitForTimers blocks until at least n timers are registered and
// unfired. Call it before Advance when another goroutine is about to
// start waiting on the clock.
func (f *FakeClock) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.activeLocked() < n {
		f.changed.Wait()
	}
}

// PendingCount reports the number of registered, unfired timers.
func (f *FakeClock) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeLocked()
}

func (f *FakeClock) activeLocked() int {
	count := 0
	for _, timer := range f.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}
