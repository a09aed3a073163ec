// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets the broker, the helper, and the session watcher
// take time as a dependency.
//
// Components hold a Clock field instead of calling time.Now,
// time.After, or time.NewTicker. Binaries pass Real(). Tests pass a
// FakeClock and move time forward explicitly:
//
//	fake := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
//	broker, _ := broker.New(broker.Config{Clock: fake, ...})
//	fake.WaitForTimers(1)        // reaper ticker is registered
//	fake.Advance(31 * time.Minute) // idle sessions are swept
//
// Kernel socket deadlines (net.Conn.SetDeadline) are wall-clock
// instants and stay on the time package.
package clock
