// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loginsession

import (
	"strconv"
	"strings"
)

// sessionProperties are the show-session properties applied by
// applySessionProperties.
const sessionProperties = "Type,Remote,Seat,State,LockedHint"

// parseSessionList reads `loginctl list-sessions --no-legend` output.
// Every systemd version starts each row with SESSION UID USER; the
// remaining columns vary and are ignored.
func parseSessionList(output string) []Session {
	var sessions []Session
	for line := range strings.Lines(output) {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		uid, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			continue
		}
		sessions = append(sessions, Session{
			SessionID: fields[0],
			UID:       uint32(uid),
			Username:  fields[2],
			State:     StateActive,
		})
	}
	return sessions
}

// applySessionProperties folds `loginctl show-session --property=...`
// output into session.
func applySessionProperties(session *Session, output string) {
	for line := range strings.Lines(output) {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "Type":
			switch value {
			case "x11", "wayland", "mir":
				session.DisplayType = value
			default:
				session.DisplayType = ""
			}
		case "Remote":
			session.Remote = value == "yes"
		case "Seat":
			session.Seat = value
		case "State":
			if value != "" {
				session.State = value
			}
		case "LockedHint":
			session.Locked = value == "yes"
		}
	}
}
