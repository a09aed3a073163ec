// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loginsession

import (
	"slices"
	"testing"
)

func TestParseSessionList(t *testing.T) {
	// systemd 256 adds LEADER, CLASS, IDLE and SINCE columns; older
	// versions stop after TTY.
	output := "" +
		"     2 1000 alice seat0 1234 user      tty2 no  -\n" +
		"    c1  120 gdm   seat0  987 greeter   tty1 no  -\n" +
		"\n" +
		"    17 1001 bob              pts/3\n" +
		"garbage\n" +
		"   x9  notanumber carol\n"

	got := parseSessionList(output)
	want := []Session{
		{SessionID: "2", UID: 1000, Username: "alice", State: StateActive},
		{SessionID: "c1", UID: 120, Username: "gdm", State: StateActive},
		{SessionID: "17", UID: 1001, Username: "bob", State: StateActive},
	}
	if !slices.Equal(got, want) {
		t.Errorf("parseSessionList =\n%+v\nwant\n%+v", got, want)
	}
}

func TestApplySessionProperties(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Session
	}{
		{
			name:   "local wayland",
			output: "Type=wayland\nRemote=no\nSeat=seat0\nState=active\nLockedHint=no\n",
			want:   Session{SessionID: "2", DisplayType: "wayland", Seat: "seat0", State: StateActive},
		},
		{
			name:   "locked x11 in background",
			output: "Type=x11\nRemote=no\nSeat=seat0\nState=online\nLockedHint=yes\n",
			want:   Session{SessionID: "2", DisplayType: "x11", Seat: "seat0", State: StateOnline, Locked: true},
		},
		{
			name:   "ssh login",
			output: "Type=tty\nRemote=yes\nSeat=\nState=active\nLockedHint=no\n",
			want:   Session{SessionID: "2", Remote: true, State: StateActive},
		},
		{
			name:   "empty state keeps listing default",
			output: "Type=mir\nState=\nUnknown=value\nnot a property\n",
			want:   Session{SessionID: "2", DisplayType: "mir", State: StateActive},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			session := Session{SessionID: "2", State: StateActive}
			applySessionProperties(&session, test.output)
			if session != test.want {
				t.Errorf("session = %+v, want %+v", session, test.want)
			}
		})
	}
}
