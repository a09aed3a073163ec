// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/deskbroker/loginsession"
)

var sampleSessions = []loginsession.Session{
	{SessionID: "2", Username: "alice", UID: 1000, DisplayType: "wayland", Seat: "seat0", State: loginsession.StateActive, Locked: true},
	{SessionID: "7", Username: "bob", UID: 1001, State: loginsession.StateOnline, Remote: true},
	{SessionID: "1", Username: "carol", SID: "S-1-5-21-1-2-3-1001", DisplayType: "windows", State: loginsession.StateDisconnected},
}

func TestSessionRows(t *testing.T) {
	want := [][]string{
		{"2", "alice", "wayland", "active", "yes", "no"},
		{"7", "bob", "-", "online", "no", "yes"},
		{"1", "carol (S-1-5-21-1-2-3-1001)", "windows", "disconnected", "no", "no"},
	}
	got := sessionRows(sampleSessions)
	if len(got) != len(want) {
		t.Fatalf("sessionRows returned %d rows, want %d", len(got), len(want))
	}
	for index := range want {
		if !slices.Equal(got[index], want[index]) {
			t.Errorf("row %d = %q, want %q", index, got[index], want[index])
		}
	}
}

func TestRenderSessions(t *testing.T) {
	var output bytes.Buffer
	if err := renderSessions(&output, sampleSessions); err != nil {
		t.Fatalf("renderSessions: %v", err)
	}
	rendered := output.String()
	for _, want := range []string{"SESSION", "USER", "alice", "bob", "S-1-5-21-1-2-3-1001", "wayland", "disconnected"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("table is missing %q:\n%s", want, rendered)
		}
	}
}

func TestRenderSessionsEmpty(t *testing.T) {
	var output bytes.Buffer
	if err := renderSessions(&output, nil); err != nil {
		t.Fatalf("renderSessions: %v", err)
	}
	if got := output.String(); got != "No interactive sessions.\n" {
		t.Errorf("output = %q", got)
	}
}

func TestWriteJSON(t *testing.T) {
	var output bytes.Buffer
	if err := writeJSON(&output, nil); err != nil {
		t.Fatalf("writeJSON(nil): %v", err)
	}
	if got := strings.TrimSpace(output.String()); got != "[]" {
		t.Errorf("writeJSON(nil) = %q, want []", got)
	}

	output.Reset()
	if err := writeJSON(&output, sampleSessions[:1]); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(output.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, output.String())
	}
	if len(decoded) != 1 {
		t.Fatalf("decoded %d sessions, want 1", len(decoded))
	}
	if decoded[0]["username"] != "alice" || decoded[0]["session_id"] != "2" || decoded[0]["locked"] != true {
		t.Errorf("decoded session = %v", decoded[0])
	}
}
