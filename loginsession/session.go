// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loginsession

import (
	"context"
	"errors"
	"strconv"
)

// Session is one interactive login session.
type Session struct {
	// SessionID is the platform's session identifier: the logind
	// session name, the WTS session number, or "console" on macOS.
	SessionID string `json:"session_id"`

	Username string `json:"username"`

	// UID is the numeric user id. Zero on Windows.
	UID uint32 `json:"uid"`

	// SID is the user's security identifier on Windows, empty
	// elsewhere or when the service lacks the privilege to read it.
	SID string `json:"sid,omitempty"`

	Remote bool `json:"remote"`

	// DisplayType is "x11", "wayland", "mir", "quartz", "windows", or
	// empty for sessions without a graphical display.
	DisplayType string `json:"display_type,omitempty"`

	Seat string `json:"seat,omitempty"`

	// State is the platform's session state: "active", "online" or
	// "closing" from logind, "active" or "disconnected" from WTS.
	State string `json:"state,omitempty"`

	Locked bool `json:"locked"`
}

// Session states shared across platforms.
const (
	StateActive       = "active"
	StateOnline       = "online"
	StateClosing      = "closing"
	StateDisconnected = "disconnected"
)

// Graphical reports whether the session has a display a helper can
// attach to.
func (s Session) Graphical() bool { return s.DisplayType != "" }

// IdentityKey is the key the broker tracks the session's user under:
// the SID when known, else the decimal UID.
func (s Session) IdentityKey() string {
	if s.SID != "" {
		return s.SID
	}
	return strconv.FormatUint(uint64(s.UID), 10)
}

// EventKind classifies a session change.
type EventKind string

const (
	EventLogin  EventKind = "login"
	EventLogout EventKind = "logout"
	EventLock   EventKind = "lock"
	EventUnlock EventKind = "unlock"

	// EventSwitch means the session became the active session on its
	// seat or console.
	EventSwitch EventKind = "switch"
)

// Event reports a change to one session. For logout Session is the
// last state seen before the session disappeared.
type Event struct {
	Kind    EventKind `json:"kind"`
	Session Session   `json:"session"`
}

// Lister snapshots the current sessions.
type Lister interface {
	List(ctx context.Context) ([]Session, error)
}

// ListerFunc adapts a function to a Lister.
type ListerFunc func(ctx context.Context) ([]Session, error)

func (f ListerFunc) List(ctx context.Context) ([]Session, error) { return f(ctx) }

// System lists sessions with this platform's [List].
var System Lister = ListerFunc(List)

var (
	// ErrSpawnUnsupported is returned by SpawnHelper off Windows.
	ErrSpawnUnsupported = errors.New("loginsession: helper spawning not supported on this platform")

	// ErrSASUnsupported is returned by SendSecureAttention off Windows.
	ErrSASUnsupported = errors.New("loginsession: secure attention sequence not supported on this platform")
)
