// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"crypto/rand"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/bureau-foundation/deskbroker/lib/binhash"
	"github.com/bureau-foundation/deskbroker/lib/ipc"
	"github.com/bureau-foundation/deskbroker/lib/netutil"
	"github.com/bureau-foundation/deskbroker/transport"
)

// Rejection reasons sent in auth_response. They name the failed check
// and nothing more.
const (
	reasonUIDMismatch     = "UID mismatch"
	reasonSIDMismatch     = "SID mismatch"
	reasonSIDRequired     = "SID required"
	reasonVerification    = "verification failed"
	reasonProtocolVersion = "unsupported protocol version"
	reasonSessionID       = "session id required"
	reasonSessionIDInUse  = "session id in use"
)

var (
	errSessionIDInUse  = errors.New("broker: session id in use")
	errTooManySessions = errors.New("broker: identity at session limit")
)

// handleConnection runs the handshake on conn and, when it succeeds,
// the Session's receive loop until the helper goes away.
func (b *Broker) handleConnection(conn net.Conn) {
	if !b.trackHandshake(conn) {
		conn.Close()
		return
	}
	session := b.handshake(conn)
	b.untrackHandshake(conn)
	if session == nil {
		return
	}
	b.serveSession(session)
}

func (b *Broker) trackHandshake(conn net.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.handshaking[conn] = struct{}{}
	return true
}

func (b *Broker) untrackHandshake(conn net.Conn) {
	b.mu.Lock()
	delete(b.handshaking, conn)
	b.mu.Unlock()
}

// handshake authenticates conn and registers a Session. It returns nil
// after closing conn on any failure.
func (b *Broker) handshake(raw net.Conn) *Session {
	// Kernel deadline on wall time: the clock only drives broker logic.
	raw.SetDeadline(time.Now().Add(b.config.HandshakeTimeout))

	credentials, err := b.config.PeerCredentials(raw)
	if err != nil {
		b.logger.Warn("peer credential check failed", "error", err)
		raw.Close()
		return nil
	}
	identity := credentials.IdentityKey()
	logger := b.logger.With("identity", identity, "pid", credentials.PID)

	if !b.rateLimiter.Allow(identity) {
		logger.Warn("connection rate limited")
		raw.Close()
		return nil
	}

	b.mu.RLock()
	live := len(b.byIdentity[identity])
	b.mu.RUnlock()
	if live >= b.config.MaxSessionsPerIdentity {
		logger.Warn("session limit reached", "live", live)
		raw.Close()
		return nil
	}

	if !binhash.SamePath(credentials.ExecutablePath, b.executable) {
		logger.Warn("peer executable is not the broker binary",
			"peer_path", credentials.ExecutablePath,
			"expected_path", b.executable,
		)
		raw.Close()
		return nil
	}

	conn := ipc.NewConn(raw, ipc.RoleBroker, b.config.IPC)
	envelope, err := conn.Receive()
	if err != nil {
		logHandshakeReadError(logger, err)
		conn.Close()
		return nil
	}
	if envelope.Type != ipc.TypeAuthRequest {
		logger.Warn("first frame is not auth_request", "type", envelope.Type)
		conn.Close()
		return nil
	}
	request, err := ipc.DecodePayload[ipc.AuthRequest](envelope)
	if err != nil {
		logger.Warn("invalid auth_request", "error", err)
		conn.Close()
		return nil
	}

	reject := func(reason string, args ...any) *Session {
		logger.Warn("helper rejected", append([]any{"reason", reason}, args...)...)
		if err := conn.SendMessage(envelope.ID, ipc.TypeAuthResponse, ipc.AuthResponse{Reason: reason}); err != nil {
			logger.Debug("sending rejection", "error", err)
		}
		conn.Close()
		return nil
	}

	if request.ProtocolVersion != ipc.ProtocolVersion {
		return reject(reasonProtocolVersion, "claimed_version", request.ProtocolVersion)
	}
	if reason := checkIdentity(credentials, request); reason != "" {
		return reject(reason, "claimed_uid", request.UID, "claimed_sid", request.SID)
	}
	if !b.config.DisableHashPinning {
		digest, err := binhash.ParseDigest(request.BinaryHash)
		if err != nil || !binhash.Equal(digest, b.selfHash) {
			return reject(reasonVerification, "binary_hash", request.BinaryHash)
		}
	}
	if request.SessionID == "" {
		return reject(reasonSessionID)
	}
	b.mu.RLock()
	_, taken := b.sessions[request.SessionID]
	b.mu.RUnlock()
	if taken {
		return reject(reasonSessionIDInUse, "session_id", request.SessionID)
	}

	sessionKey := make([]byte, ipc.SessionKeySize)
	if _, err := rand.Read(sessionKey); err != nil {
		logger.Error("generating session key", "error", err)
		conn.Close()
		return nil
	}
	scopes := append([]string(nil), b.config.Scopes...)
	response := ipc.AuthResponse{
		Accepted:      true,
		SessionKey:    sessionKey,
		AllowedScopes: scopes,
		AgentID:       b.config.AgentID,
	}
	err = conn.SendMessage(envelope.ID, ipc.TypeAuthResponse, response)
	if err == nil {
		err = conn.SetSessionKey(sessionKey)
	}
	clear(sessionKey)
	if err != nil {
		logger.Warn("completing handshake", "error", err)
		conn.Close()
		return nil
	}

	raw.SetDeadline(time.Time{})

	session := newSession(conn, b.clock, b.logger, sessionParams{
		identityKey:  identity,
		uid:          credentials.UID,
		username:     request.Username,
		displayEnv:   request.DisplayEnv,
		sessionID:    request.SessionID,
		pid:          credentials.PID,
		winSessionID: request.WinSessionID,
		scopes:       scopes,
	})
	if err := b.register(session); err != nil {
		logger.Warn("registering session", "session_id", request.SessionID, "error", err)
		session.Close()
		return nil
	}

	logger.Info("user helper connected",
		"username", request.Username,
		"session_id", request.SessionID,
		"display", request.DisplayEnv,
	)
	return session
}

// checkIdentity compares the claimed identity with the kernel's and
// returns a rejection reason, or "" when they agree. A peer with a SID
// is identified by it alone.
func checkIdentity(credentials transport.Credentials, request ipc.AuthRequest) string {
	if credentials.SID != "" {
		if request.SID == "" {
			return reasonSIDRequired
		}
		if request.SID != credentials.SID {
			return reasonSIDMismatch
		}
		return ""
	}
	if request.UID != credentials.UID {
		return reasonUIDMismatch
	}
	return ""
}

func logHandshakeReadError(logger *slog.Logger, err error) {
	if netutil.IsExpectedCloseError(err) {
		logger.Debug("peer closed before auth_request", "error", err)
		return
	}
	logger.Warn("reading auth_request", "error", err)
}

// serveSession runs the receive loop for session until the connection
// fails, the helper disconnects, or the Session is closed elsewhere.
func (b *Broker) serveSession(session *Session) {
	defer func() {
		b.removeSession(session)
		session.Close()
		session.logger.Info("user helper disconnected")
	}()

	for {
		envelope, err := session.conn.Receive()
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				session.logger.Debug("receive loop ended", "error", err)
			} else {
				session.logger.Warn("closing session on protocol error", "error", err)
			}
			return
		}
		session.Touch()

		switch envelope.Type {
		case ipc.TypePing:
			if err := session.Reply(envelope.ID, ipc.TypePong, nil); err != nil {
				session.logger.Debug("sending pong", "error", err)
				return
			}
			continue
		case ipc.TypeCapabilities:
			capabilities, err := ipc.DecodePayload[ipc.Capabilities](envelope)
			if err != nil {
				session.logger.Warn("invalid capabilities", "error", err)
				continue
			}
			session.SetCapabilities(capabilities)
			session.logger.Info("capabilities received",
				"notify", capabilities.SupportsNotify,
				"tray", capabilities.SupportsTray,
				"capture", capabilities.SupportsCapture,
				"clipboard", capabilities.SupportsClipboard,
				"display_server", capabilities.DisplayServer,
			)
			continue
		case ipc.TypeDisconnect:
			reason := ""
			if len(envelope.Payload) > 0 {
				if disconnect, err := ipc.DecodePayload[ipc.Disconnect](envelope); err == nil {
					reason = disconnect.Reason
				}
			}
			session.logger.Info("user helper disconnecting", "reason", reason)
			return
		}

		if session.deliver(envelope) {
			continue
		}
		if b.config.OnMessage != nil {
			b.config.OnMessage(session, envelope)
		} else {
			session.logger.Debug("unhandled message", "type", envelope.Type, "id", envelope.ID)
		}
	}
}
