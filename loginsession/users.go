// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loginsession

import (
	"context"
	"fmt"
	"os/user"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// listUsers builds sessions from the utmp user table. It knows less
// than logind (no lock state, no seat), so it serves only where
// nothing better exists.
func listUsers(ctx context.Context) ([]Session, error) {
	stats, err := host.UsersWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("loginsession: reading user table: %w", err)
	}
	return sessionsFromUsers(stats, lookupUID), nil
}

func lookupUID(username string) (uint32, bool) {
	account, err := user.Lookup(username)
	if err != nil {
		return 0, false
	}
	uid, err := strconv.ParseUint(account.Uid, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(uid), true
}

// sessionsFromUsers converts utmp entries. An entry whose host is an X
// display (":0") is a local graphical login; any other host is remote.
// Users that lookup cannot resolve are skipped.
func sessionsFromUsers(stats []host.UserStat, lookup func(string) (uint32, bool)) []Session {
	var sessions []Session
	for _, stat := range stats {
		if stat.User == "" {
			continue
		}
		uid, ok := lookup(stat.User)
		if !ok {
			continue
		}
		session := Session{
			SessionID: stat.Terminal,
			Username:  stat.User,
			UID:       uid,
			State:     StateOnline,
		}
		switch {
		case strings.HasPrefix(stat.Host, ":"):
			session.DisplayType = "x11"
		case stat.Host != "":
			session.Remote = true
		}
		sessions = append(sessions, session)
	}
	return sessions
}
