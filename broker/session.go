// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/deskbroker/lib/clock"
	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// Session is an authenticated user helper. The identity fields are
// fixed at the handshake and safe to read without locking.
type Session struct {
	// IdentityKey is the decimal UID on Unix or the SID on Windows.
	IdentityKey string

	// UID is zero on Windows.
	UID uint32

	Username     string
	DisplayEnv   string
	SessionID    string
	PID          int
	WinSessionID uint32
	Scopes       []string
	ConnectedAt  time.Time

	conn   *ipc.Conn
	clock  clock.Clock
	logger *slog.Logger

	mu           sync.Mutex
	lastSeen     time.Time
	capabilities *ipc.Capabilities
	pending      map[string]chan *ipc.Envelope
	closed       bool
}

// sessionParams carries the verified handshake results into newSession.
type sessionParams struct {
	identityKey  string
	uid          uint32
	username     string
	displayEnv   string
	sessionID    string
	pid          int
	winSessionID uint32
	scopes       []string
}

func newSession(conn *ipc.Conn, clk clock.Clock, logger *slog.Logger, params sessionParams) *Session {
	now := clk.Now()
	return &Session{
		IdentityKey:  params.identityKey,
		UID:          params.uid,
		Username:     params.username,
		DisplayEnv:   params.displayEnv,
		SessionID:    params.sessionID,
		PID:          params.pid,
		WinSessionID: params.winSessionID,
		Scopes:       params.scopes,
		ConnectedAt:  now,
		conn:         conn,
		clock:        clk,
		logger:       logger.With("session_id", params.sessionID, "identity", params.identityKey),
		lastSeen:     now,
		pending:      make(map[string]chan *ipc.Envelope),
	}
}

// SendCommand sends a message to the helper and waits for the envelope
// that answers it under the same id. A response carrying an error
// string is returned together with ErrHelperFailed.
func (s *Session) SendCommand(id, messageType string, payload any, timeout time.Duration) (*ipc.Envelope, error) {
	if err := s.checkScope(messageType); err != nil {
		return nil, err
	}

	response := make(chan *ipc.Envelope, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if _, exists := s.pending[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("broker: request %q already pending on session %s", id, s.SessionID)
	}
	s.pending[id] = response
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.send(id, messageType, payload); err != nil {
		return nil, err
	}

	select {
	case envelope, ok := <-response:
		if !ok {
			return nil, ErrSessionClosed
		}
		if envelope.Error != "" {
			return envelope, fmt.Errorf("%w: %s", ErrHelperFailed, envelope.Error)
		}
		return envelope, nil
	case <-s.clock.After(timeout):
		return nil, fmt.Errorf("%w: %s after %v", ErrCommandTimeout, id, timeout)
	}
}

// Send delivers a message that expects no response.
func (s *Session) Send(id, messageType string, payload any) error {
	if err := s.checkScope(messageType); err != nil {
		return err
	}
	return s.send(id, messageType, payload)
}

// Reply answers a request the helper sent. Replies are not
// scope-checked: the helper asked for them.
func (s *Session) Reply(id, messageType string, payload any) error {
	return s.send(id, messageType, payload)
}

// ReplyError answers a helper request with a failure.
func (s *Session) ReplyError(id, messageType, message string) error {
	s.Touch()
	if err := s.conn.SendError(id, messageType, message); err != nil {
		return s.sendFailed(err)
	}
	return nil
}

func (s *Session) send(id, messageType string, payload any) error {
	s.Touch()
	if err := s.conn.SendMessage(id, messageType, payload); err != nil {
		return s.sendFailed(err)
	}
	return nil
}

func (s *Session) sendFailed(err error) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return err
}

func (s *Session) checkScope(messageType string) error {
	scope := ipc.ScopeFor(messageType)
	if scope == "" || s.HasScope(scope) {
		return nil
	}
	return fmt.Errorf("%w: %s needs %q", ErrScopeDenied, messageType, scope)
}

// HasScope reports whether scope, or the wildcard "*", was granted.
func (s *Session) HasScope(scope string) bool {
	return slices.Contains(s.Scopes, scope) || slices.Contains(s.Scopes, ipc.ScopeAll)
}

// deliver routes envelope to the request waiting on its id and reports
// whether one was. The send happens under s.mu so it cannot race the
// close of the channel in Close.
func (s *Session) deliver(envelope *ipc.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	response, ok := s.pending[envelope.ID]
	if !ok {
		return false
	}
	select {
	case response <- envelope:
	default:
		s.logger.Warn("duplicate response dropped", "id", envelope.ID, "type", envelope.Type)
	}
	return true
}

// Touch records activity now.
func (s *Session) Touch() {
	now := s.clock.Now()
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// IdleDuration is the time since the last message in either direction.
func (s *Session) IdleDuration() time.Duration {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// SetCapabilities records what the helper announced.
func (s *Session) SetCapabilities(capabilities ipc.Capabilities) {
	s.mu.Lock()
	s.capabilities = &capabilities
	s.mu.Unlock()
}

// Capabilities returns the announced capabilities, or nil before the
// helper has sent them.
func (s *Session) Capabilities() *ipc.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capabilities == nil {
		return nil
	}
	capabilities := *s.capabilities
	return &capabilities
}

// Supports reports whether the helper announced capability, one of
// "notify", "tray", "capture", or "clipboard".
func (s *Session) Supports(capability string) bool {
	capabilities := s.Capabilities()
	if capabilities == nil {
		return false
	}
	switch capability {
	case CapabilityNotify:
		return capabilities.SupportsNotify
	case CapabilityTray:
		return capabilities.SupportsTray
	case CapabilityCapture:
		return capabilities.SupportsCapture
	case CapabilityClipboard:
		return capabilities.SupportsClipboard
	}
	return false
}

// Capability names accepted by Supports and FindCapableSession.
const (
	CapabilityNotify    = "notify"
	CapabilityTray      = "tray"
	CapabilityCapture   = "capture"
	CapabilityClipboard = "clipboard"
)

// PendingRequests is the number of SendCommand calls awaiting a
// response.
func (s *Session) PendingRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close closes the connection and fails every pending request with
// ErrSessionClosed. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, response := range s.pending {
		close(response)
		delete(s.pending, id)
	}
	s.mu.Unlock()
	return s.conn.Close()
}

// SessionInfo is a point-in-time snapshot of a Session.
type SessionInfo struct {
	IdentityKey  string            `json:"identity_key"`
	UID          uint32            `json:"uid"`
	Username     string            `json:"username"`
	DisplayEnv   string            `json:"display_env,omitempty"`
	SessionID    string            `json:"session_id"`
	PID          int               `json:"pid"`
	WinSessionID uint32            `json:"win_session_id,omitempty"`
	Scopes       []string          `json:"scopes"`
	Capabilities *ipc.Capabilities `json:"capabilities,omitempty"`
	ConnectedAt  time.Time         `json:"connected_at"`
	LastSeen     time.Time         `json:"last_seen"`
}

// Info snapshots the Session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		IdentityKey:  s.IdentityKey,
		UID:          s.UID,
		Username:     s.Username,
		DisplayEnv:   s.DisplayEnv,
		SessionID:    s.SessionID,
		PID:          s.PID,
		WinSessionID: s.WinSessionID,
		Scopes:       slices.Clone(s.Scopes),
		ConnectedAt:  s.ConnectedAt,
		LastSeen:     s.lastSeen,
	}
	if s.capabilities != nil {
		capabilities := *s.capabilities
		info.Capabilities = &capabilities
	}
	return info
}
