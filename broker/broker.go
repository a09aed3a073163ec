// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/deskbroker/lib/binhash"
	"github.com/bureau-foundation/deskbroker/lib/clock"
	"github.com/bureau-foundation/deskbroker/lib/ipc"
	"github.com/bureau-foundation/deskbroker/transport"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultHandshakeTimeout       = 5 * time.Second
	DefaultIdleTimeout            = 30 * time.Minute
	DefaultIdleCheckInterval      = 60 * time.Second
	DefaultMaxSessionsPerIdentity = 3
	DefaultRateLimitAttempts      = 5
	DefaultRateLimitWindow        = 60 * time.Second
)

// acceptBackoff is the pause after a transient Accept error.
const acceptBackoff = 100 * time.Millisecond

// MessageHandler receives every helper message that is not a response
// to a pending request and not handled by the broker itself (ping,
// capabilities, disconnect). It runs on the Session's receive loop, so
// a slow handler delays that Session's traffic.
type MessageHandler func(session *Session, envelope *ipc.Envelope)

// Config configures a Broker.
type Config struct {
	// Listen describes the endpoint Listen creates.
	Listen transport.ListenConfig

	// Listener, when set, is served instead of creating Listen's
	// endpoint. The Broker closes it on Close.
	Listener net.Listener

	// PeerCredentials resolves the kernel identity of each connection.
	// Nil means transport.PeerCredentials.
	PeerCredentials transport.CredentialFunc

	// ExecutablePath is the binary helpers must be running. Empty means
	// the broker's own executable.
	ExecutablePath string

	// DisableHashPinning skips the BLAKE3 comparison of the helper's
	// executable. The path check still applies.
	DisableHashPinning bool

	// Scopes are granted to every helper. Nil means ipc.DefaultScopes.
	Scopes []string

	// AgentID is returned to helpers in the auth_response.
	AgentID string

	// IPC tunes compression on accepted connections.
	IPC ipc.Options

	HandshakeTimeout       time.Duration
	IdleTimeout            time.Duration
	IdleCheckInterval      time.Duration
	MaxSessionsPerIdentity int
	RateLimitAttempts      int
	RateLimitWindow        time.Duration

	OnMessage MessageHandler
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Broker accepts user helper connections and tracks their Sessions.
type Broker struct {
	config      Config
	clock       clock.Clock
	logger      *slog.Logger
	executable  string
	selfHash    binhash.Digest
	rateLimiter *rateLimiter

	mu          sync.RWMutex
	listener    net.Listener
	sessions    map[string]*Session
	byIdentity  map[string][]*Session
	handshaking map[net.Conn]struct{}
	listening   bool
	closed      bool
	done        chan struct{}

	connections sync.WaitGroup
}

// New validates config and returns a Broker ready to Listen. It fails
// when hash pinning is enabled and the broker executable cannot be
// hashed; the broker never runs with verification silently off.
func New(config Config) (*Broker, error) {
	if config.PeerCredentials == nil {
		config.PeerCredentials = transport.PeerCredentials
	}
	if config.Scopes == nil {
		config.Scopes = ipc.DefaultScopes()
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.IdleCheckInterval <= 0 {
		config.IdleCheckInterval = DefaultIdleCheckInterval
	}
	if config.MaxSessionsPerIdentity <= 0 {
		config.MaxSessionsPerIdentity = DefaultMaxSessionsPerIdentity
	}
	if config.RateLimitAttempts <= 0 {
		config.RateLimitAttempts = DefaultRateLimitAttempts
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = DefaultRateLimitWindow
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	broker := &Broker{
		config:      config,
		clock:       config.Clock,
		logger:      config.Logger,
		rateLimiter: newRateLimiter(config.Clock, config.RateLimitAttempts, config.RateLimitWindow),
		sessions:    make(map[string]*Session),
		byIdentity:  make(map[string][]*Session),
		handshaking: make(map[net.Conn]struct{}),
		done:        make(chan struct{}),
	}

	if config.ExecutablePath == "" {
		path, digest, err := binhash.Self()
		if err != nil {
			return nil, fmt.Errorf("broker: resolving own executable: %w", err)
		}
		broker.executable = path
		broker.selfHash = digest
	} else {
		path, err := binhash.ResolvePath(config.ExecutablePath)
		if err != nil {
			return nil, fmt.Errorf("broker: resolving executable: %w", err)
		}
		broker.executable = path
		if !config.DisableHashPinning {
			digest, err := binhash.HashFile(path)
			if err != nil {
				return nil, fmt.Errorf("broker: hashing executable for pinning: %w", err)
			}
			broker.selfHash = digest
		}
	}
	return broker, nil
}

// Listen accepts helper connections until ctx is cancelled or Close is
// called. Each connection is served on its own goroutine; Listen
// returns after they have all finished.
func (b *Broker) Listen(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.listening {
		b.mu.Unlock()
		return errors.New("broker: already listening")
	}
	b.listening = true
	b.mu.Unlock()

	listener := b.config.Listener
	if listener == nil {
		var err error
		listener, err = transport.Listen(b.config.Listen)
		if err != nil {
			return fmt.Errorf("broker: %w", err)
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		listener.Close()
		return ErrClosed
	}
	b.listener = listener
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.Close()
		case <-b.done:
		}
	}()

	ticker := b.clock.NewTicker(b.config.IdleCheckInterval)
	go b.reapLoop(ticker)

	b.logger.Info("session broker listening", "address", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if b.isClosed() {
				break
			}
			b.logger.Warn("accept failed", "error", err)
			select {
			case <-b.clock.After(acceptBackoff):
			case <-b.done:
			}
			continue
		}
		b.connections.Add(1)
		go func() {
			defer b.connections.Done()
			b.handleConnection(conn)
		}()
	}

	b.connections.Wait()
	return nil
}

// Close stops accepting, tears down every Session and in-progress
// handshake, and removes the socket the Broker created. Idempotent.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	listener := b.listener
	sessions := make([]*Session, 0, len(b.sessions))
	for _, session := range b.sessions {
		sessions = append(sessions, session)
	}
	b.sessions = make(map[string]*Session)
	b.byIdentity = make(map[string][]*Session)
	handshaking := make([]net.Conn, 0, len(b.handshaking))
	for conn := range b.handshaking {
		handshaking = append(handshaking, conn)
	}
	b.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		if b.config.Listener == nil {
			if removeErr := transport.Remove(b.config.Listen.Address); removeErr != nil {
				b.logger.Warn("removing broker socket", "error", removeErr)
			}
		}
	}
	for _, conn := range handshaking {
		conn.Close()
	}
	for _, session := range sessions {
		session.Close()
	}

	b.logger.Info("session broker closed", "sessions", len(sessions))
	return err
}

func (b *Broker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *Broker) reapLoop(ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.reapIdleSessions()
			b.rateLimiter.Prune()
		case <-b.done:
			return
		}
	}
}

func (b *Broker) reapIdleSessions() {
	b.mu.RLock()
	var idle []*Session
	for _, session := range b.sessions {
		if session.IdleDuration() > b.config.IdleTimeout {
			idle = append(idle, session)
		}
	}
	b.mu.RUnlock()

	for _, session := range idle {
		session.logger.Info("disconnecting idle user helper", "idle", session.IdleDuration())
		b.removeSession(session)
		session.Close()
	}
}

// register adds session to the tables unless its session id is taken
// or its identity is at the cap.
func (b *Broker) register(session *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, exists := b.sessions[session.SessionID]; exists {
		return errSessionIDInUse
	}
	if len(b.byIdentity[session.IdentityKey]) >= b.config.MaxSessionsPerIdentity {
		return errTooManySessions
	}
	b.sessions[session.SessionID] = session
	b.byIdentity[session.IdentityKey] = append(b.byIdentity[session.IdentityKey], session)
	return nil
}

// removeSession drops session from the tables. Safe to call more than
// once and after another Session has taken the same session id.
func (b *Broker) removeSession(session *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sessions[session.SessionID] == session {
		delete(b.sessions, session.SessionID)
	}
	key := session.IdentityKey
	remaining := slices.DeleteFunc(slices.Clone(b.byIdentity[key]), func(candidate *Session) bool {
		return candidate == session
	})
	if len(remaining) == 0 {
		delete(b.byIdentity, key)
	} else {
		b.byIdentity[key] = remaining
	}
}

// SessionForUser returns a live Session for username, or nil.
func (b *Broker) SessionForUser(username string) *Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, session := range b.sortedLocked() {
		if session.Username == username {
			return session
		}
	}
	return nil
}

// SessionForIdentity returns the oldest live Session for an identity
// key (decimal UID or SID), or nil.
func (b *Broker) SessionForIdentity(key string) *Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sessions := b.byIdentity[key]; len(sessions) > 0 {
		return sessions[0]
	}
	return nil
}

// FindCapableSession returns a Session that announced capability. When
// sessionID is non-empty only that Session is considered.
func (b *Broker) FindCapableSession(capability, sessionID string) *Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sessionID != "" {
		if session := b.sessions[sessionID]; session != nil && session.Supports(capability) {
			return session
		}
		return nil
	}
	for _, session := range b.sortedLocked() {
		if session.Supports(capability) {
			return session
		}
	}
	return nil
}

// SessionCount is the number of live Sessions.
func (b *Broker) SessionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// ResetRateLimit forgets the connection attempts recorded for an
// identity key.
func (b *Broker) ResetRateLimit(key string) {
	b.rateLimiter.Reset(key)
}

// AllSessions snapshots every live Session, oldest first.
func (b *Broker) AllSessions() []SessionInfo {
	b.mu.RLock()
	sessions := b.sortedLocked()
	b.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

// sortedLocked returns the live Sessions ordered by connect time, then
// session id. Caller holds b.mu.
func (b *Broker) sortedLocked() []*Session {
	sessions := make([]*Session, 0, len(b.sessions))
	for _, session := range b.sessions {
		sessions = append(sessions, session)
	}
	slices.SortFunc(sessions, func(x, y *Session) int {
		if c := x.ConnectedAt.Compare(y.ConnectedAt); c != 0 {
			return c
		}
		if x.SessionID < y.SessionID {
			return -1
		}
		if x.SessionID > y.SessionID {
			return 1
		}
		return 0
	})
	return sessions
}

// SendCommandAndWait sends a request on session and blocks until the
// helper answers or timeout elapses. A nil session fails with
// ErrNoHelperForUser.
func (b *Broker) SendCommandAndWait(session *Session, id, messageType string, payload any, timeout time.Duration) (*ipc.Envelope, error) {
	if session == nil {
		return nil, ErrNoHelperForUser
	}
	return session.SendCommand(id, messageType, payload, timeout)
}

// BroadcastNotification sends a notify message to every Session
// granted the notify scope and returns how many sends succeeded.
func (b *Broker) BroadcastNotification(title, body, urgency string) int {
	b.mu.RLock()
	sessions := b.sortedLocked()
	b.mu.RUnlock()

	request := ipc.NotifyRequest{Title: title, Body: body, Urgency: urgency}
	delivered := 0
	for _, session := range sessions {
		if !session.HasScope(ipc.ScopeNotify) {
			continue
		}
		if err := session.Send("", ipc.TypeNotify, request); err != nil {
			session.logger.Debug("broadcast notification not sent", "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
