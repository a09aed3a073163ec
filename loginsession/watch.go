// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loginsession

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/bureau-foundation/deskbroker/lib/clock"
)

// DefaultPollInterval is how often Watch re-lists sessions.
const DefaultPollInterval = 5 * time.Second

// WatchOptions tunes Watch. The zero value polls every
// DefaultPollInterval on the wall clock and discards logs.
type WatchOptions struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Watch polls lister and sends an Event for every difference between
// consecutive snapshots. The first successful snapshot is the baseline
// and produces no events; callers wanting the sessions that already
// exist call List themselves. Failed polls are logged and skipped.
// The channel closes when ctx is cancelled.
func Watch(ctx context.Context, lister Lister, options WatchOptions) <-chan Event {
	if options.Interval <= 0 {
		options.Interval = DefaultPollInterval
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	events := make(chan Event, 16)
	ticker := options.Clock.NewTicker(options.Interval)
	go func() {
		defer close(events)
		defer ticker.Stop()

		var known map[string]Session
		poll := func() {
			sessions, err := lister.List(ctx)
			if err != nil {
				if ctx.Err() == nil {
					options.Logger.Warn("listing login sessions", "error", err)
				}
				return
			}
			current := indexSessions(sessions)
			if known != nil {
				for _, event := range diffSessions(known, current) {
					select {
					case events <- event:
					case <-ctx.Done():
						return
					}
				}
			}
			known = current
		}

		poll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()
	return events
}

func indexSessions(sessions []Session) map[string]Session {
	index := make(map[string]Session, len(sessions))
	for _, session := range sessions {
		index[session.SessionID] = session
	}
	return index
}

// diffSessions returns the events that turn previous into current:
// logouts first, then changes to surviving sessions, then logins,
// each group ordered by session id.
func diffSessions(previous, current map[string]Session) []Event {
	var logouts, changes, logins []Event

	for _, id := range sortedIDs(previous) {
		before := previous[id]
		after, ok := current[id]
		if !ok {
			logouts = append(logouts, Event{Kind: EventLogout, Session: before})
			continue
		}
		if before.Locked != after.Locked {
			kind := EventUnlock
			if after.Locked {
				kind = EventLock
			}
			changes = append(changes, Event{Kind: kind, Session: after})
		}
		if after.State == StateActive && before.State != StateActive {
			changes = append(changes, Event{Kind: EventSwitch, Session: after})
		}
	}
	for _, id := range sortedIDs(current) {
		if _, ok := previous[id]; !ok {
			logins = append(logins, Event{Kind: EventLogin, Session: current[id]})
		}
	}
	return slices.Concat(logouts, changes, logins)
}

func sortedIDs(sessions map[string]Session) []string {
	return slices.Sorted(maps.Keys(sessions))
}
