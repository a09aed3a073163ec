// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/deskbroker/lib/binhash"
	"github.com/bureau-foundation/deskbroker/lib/clock"
	"github.com/bureau-foundation/deskbroker/lib/ipc"
	"github.com/bureau-foundation/deskbroker/lib/netutil"
	"github.com/bureau-foundation/deskbroker/transport"
)

var (
	// ErrRejected means the broker refused the handshake. The wrapped
	// message carries the broker's reason.
	ErrRejected = errors.New("helper: broker rejected the handshake")

	// ErrPeerUnresponsive ends Run after MaxMissedKeepalives keepalive
	// intervals pass without a frame from the broker.
	ErrPeerUnresponsive = errors.New("helper: broker stopped responding")

	// ErrNotConnected is returned by requests made without an
	// authenticated connection.
	ErrNotConnected = errors.New("helper: not connected to broker")

	// ErrStopped is returned by requests interrupted by Stop, and by
	// Run on a stopped Client.
	ErrStopped = errors.New("helper: stopped")

	// ErrSASTimeout means the daemon did not answer a sas_request in
	// time.
	ErrSASTimeout = errors.New("helper: timed out waiting for sas_response")
)

// Defaults applied by New to zero Config fields.
const (
	DefaultKeepaliveInterval    = 5 * time.Second
	DefaultMaxMissedKeepalives  = 3
	DefaultSASTimeout           = 8 * time.Second
	DefaultScriptLanguage       = "bash"
	DefaultScriptTimeoutSeconds = 300
)

const (
	dialTimeout       = 5 * time.Second
	handshakeTimeout  = 5 * time.Second
	disconnectTimeout = time.Second
)

// Config configures a Client.
type Config struct {
	// Address is the broker socket or pipe. Empty means
	// transport.DefaultAddress.
	Address string

	// Dial opens the connection. Nil means transport.Dial.
	Dial func(ctx context.Context, address string) (net.Conn, error)

	// Identity reports the user to claim. Nil means CurrentIdentity.
	Identity func() (Identity, error)

	// ExecutablePath is hashed for the auth_request. Empty means this
	// process's own executable.
	ExecutablePath string

	// Getenv is consulted for display detection. Nil means os.Getenv.
	Getenv func(string) string

	// SessionID names this helper to the broker. Empty means a random
	// UUID.
	SessionID string

	Notifier  Notifier
	Tray      TrayManager
	Clipboard Clipboard
	Scripts   ScriptExecutor
	Tools     ToolRunner
	Desktop   DesktopSessions

	// IPC tunes payload compression on the connection.
	IPC ipc.Options

	KeepaliveInterval   time.Duration
	MaxMissedKeepalives int
	SASTimeout          time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Client is one helper connection. A Client runs once; reconnecting
// means building a new Client.
type Client struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	stop           chan struct{}
	stopOnce       sync.Once
	handlerContext context.Context
	cancelHandlers context.CancelFunc
	handlers       sync.WaitGroup

	mu      sync.Mutex
	conn    *ipc.Conn
	started bool
	agentID string
	scopes  []string

	pendingMu sync.Mutex
	pending   map[string]chan *ipc.Envelope

	sasSequence  atomic.Uint64
	traySequence atomic.Uint64
}

// New returns a Client. Nothing is dialed until Run.
func New(config Config) *Client {
	if config.Dial == nil {
		config.Dial = transport.Dial
	}
	if config.Identity == nil {
		config.Identity = CurrentIdentity
	}
	if config.Getenv == nil {
		config.Getenv = os.Getenv
	}
	if config.SessionID == "" {
		config.SessionID = uuid.NewString()
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if config.MaxMissedKeepalives <= 0 {
		config.MaxMissedKeepalives = DefaultMaxMissedKeepalives
	}
	if config.SASTimeout <= 0 {
		config.SASTimeout = DefaultSASTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	handlerContext, cancelHandlers := context.WithCancel(context.Background())
	return &Client{
		config:         config,
		clock:          config.Clock,
		logger:         config.Logger.With("session_id", config.SessionID),
		stop:           make(chan struct{}),
		handlerContext: handlerContext,
		cancelHandlers: cancelHandlers,
		pending:        make(map[string]chan *ipc.Envelope),
	}
}

// SessionID is the id this helper registers under.
func (c *Client) SessionID() string { return c.config.SessionID }

// AgentID is the id the broker assigned, empty before the handshake.
func (c *Client) AgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

// Scopes are the scopes the broker granted, nil before the handshake.
func (c *Client) Scopes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.scopes)
}

// Run dials the broker, authenticates, announces capabilities and
// serves requests until ctx is cancelled, Stop is called, or the
// connection fails. It returns nil on a requested shutdown or a
// disconnect from the broker.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("helper: Run called twice")
	}
	c.started = true
	c.mu.Unlock()
	if c.stopped() {
		return ErrStopped
	}

	identity, err := c.config.Identity()
	if err != nil {
		return err
	}
	digest, err := c.executableDigest()
	if err != nil {
		return fmt.Errorf("helper: hashing own executable: %w", err)
	}
	displayEnv := DetectDisplayEnv(c.config.Getenv)

	dialContext, cancel := context.WithTimeout(ctx, dialTimeout)
	raw, err := c.config.Dial(dialContext, c.config.Address)
	cancel()
	if err != nil {
		return fmt.Errorf("helper: dialing broker: %w", err)
	}
	conn := ipc.NewConn(raw, ipc.RoleHelper, c.config.IPC)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()
	// Run is single-use; finishing it stops the Client.
	defer c.Stop()
	if c.stopped() {
		return nil
	}

	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-c.stop:
		}
	}()

	if err := c.authenticate(conn, identity, digest, displayEnv); err != nil {
		if c.stopped() {
			return nil
		}
		return err
	}

	capabilities := DetectCapabilities(displayEnv)
	if err := conn.SendMessage("capabilities", ipc.TypeCapabilities, capabilities); err != nil {
		c.logger.Warn("sending capabilities", "error", err)
	}
	if c.config.Tray != nil {
		c.config.Tray.SetActionHandler(func(itemID string) { c.sendTrayAction(conn, itemID) })
	}
	c.logger.Info("user helper connected", "agent_id", c.AgentID(), "display", displayEnv)

	err = c.serve(conn)

	c.cancelHandlers()
	c.handlers.Wait()
	c.failPending()
	return err
}

func (c *Client) executableDigest() (binhash.Digest, error) {
	if c.config.ExecutablePath == "" {
		_, digest, err := binhash.Self()
		return digest, err
	}
	path, err := binhash.ResolvePath(c.config.ExecutablePath)
	if err != nil {
		return binhash.Digest{}, err
	}
	return binhash.HashFile(path)
}

func (c *Client) authenticate(conn *ipc.Conn, identity Identity, digest binhash.Digest, displayEnv string) error {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	request := ipc.AuthRequest{
		ProtocolVersion: ipc.ProtocolVersion,
		UID:             identity.UID,
		SID:             identity.SID,
		Username:        identity.Username,
		SessionID:       c.config.SessionID,
		DisplayEnv:      displayEnv,
		PID:             os.Getpid(),
		BinaryHash:      binhash.FormatDigest(digest),
		WinSessionID:    currentWinSessionID(),
	}
	if err := conn.SendMessage("auth", ipc.TypeAuthRequest, request); err != nil {
		return fmt.Errorf("helper: sending auth_request: %w", err)
	}
	envelope, err := conn.Receive()
	if err != nil {
		return fmt.Errorf("helper: waiting for auth_response: %w", err)
	}
	if envelope.Type != ipc.TypeAuthResponse {
		return fmt.Errorf("helper: expected auth_response, got %q", envelope.Type)
	}
	response, err := ipc.DecodePayload[ipc.AuthResponse](envelope)
	if err != nil {
		return err
	}
	if !response.Accepted {
		return fmt.Errorf("%w: %s", ErrRejected, response.Reason)
	}
	err = conn.SetSessionKey(response.SessionKey)
	clear(response.SessionKey)
	if err != nil {
		return fmt.Errorf("helper: installing session key: %w", err)
	}

	c.mu.Lock()
	c.agentID = response.AgentID
	c.scopes = response.AllowedScopes
	c.mu.Unlock()
	return nil
}

// serve reads frames on its own goroutine and dispatches them. The
// keepalive ticker runs on the clock: each interval with no inbound
// frame sends a ping, and MaxMissedKeepalives such intervals in a row
// end the connection.
func (c *Client) serve(conn *ipc.Conn) error {
	frames := make(chan *ipc.Envelope)
	readErr := make(chan error, 1)
	go func() {
		for {
			envelope, err := conn.Receive()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- envelope:
			case <-c.stop:
				return
			}
		}
	}()

	ticker := c.clock.NewTicker(c.config.KeepaliveInterval)
	defer ticker.Stop()

	silent := 0
	for {
		select {
		case <-c.stop:
			return nil

		case err := <-readErr:
			if c.stopped() {
				return nil
			}
			if netutil.IsExpectedCloseError(err) {
				return fmt.Errorf("helper: broker closed the connection: %w", err)
			}
			return fmt.Errorf("helper: receiving: %w", err)

		case <-ticker.C:
			silent++
			if silent >= c.config.MaxMissedKeepalives {
				c.logger.Warn("broker unresponsive", "silent_intervals", silent)
				return ErrPeerUnresponsive
			}
			if err := conn.SendMessage("keepalive", ipc.TypePing, nil); err != nil {
				if c.stopped() {
					return nil
				}
				return fmt.Errorf("helper: sending keepalive: %w", err)
			}

		case envelope := <-frames:
			silent = 0
			if done := c.dispatch(conn, envelope); done {
				return nil
			}
		}
	}
}

// dispatch handles one inbound frame and reports whether the broker
// asked to end the connection. Work that may block runs on its own
// goroutine so keepalives keep flowing.
func (c *Client) dispatch(conn *ipc.Conn, envelope *ipc.Envelope) bool {
	switch envelope.Type {
	case ipc.TypePing:
		c.reply(conn, envelope.ID, ipc.TypePong, nil)
		return false
	case ipc.TypePong:
		return false
	case ipc.TypeSASResponse:
		if !c.resolvePending(envelope) {
			c.logger.Warn("unsolicited sas_response", "id", envelope.ID)
		}
		return false
	case ipc.TypeDisconnect:
		c.logger.Info("broker requested disconnect")
		return true
	}

	handler := c.handlerFor(envelope.Type)
	if handler == nil {
		c.logger.Warn("unknown message type", "type", envelope.Type, "id", envelope.ID)
		return false
	}
	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()
		handler(c.handlerContext, conn, envelope)
	}()
	return false
}

// Stop ends Run: it stops desktop sessions, sends a best-effort
// disconnect, and closes the connection. Safe to call before Run, more
// than once, and from any goroutine.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.cancelHandlers()
		if c.config.Desktop != nil {
			c.config.Desktop.StopAllSessions()
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		if conn.Authenticated() {
			conn.SetWriteDeadline(time.Now().Add(disconnectTimeout))
			if err := conn.SendMessage("disconnect", ipc.TypeDisconnect, ipc.Disconnect{Reason: "helper stopping"}); err != nil {
				c.logger.Debug("sending disconnect", "error", err)
			}
		}
		conn.Close()
	})
}

func (c *Client) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// RequestSAS asks the daemon to invoke the secure attention sequence
// for this helper's Windows session and waits for the answer.
func (c *Client) RequestSAS(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !conn.Authenticated() {
		return ErrNotConnected
	}

	id := fmt.Sprintf("sas-%d", c.sasSequence.Add(1))
	response, err := c.registerPending(id)
	if err != nil {
		return err
	}
	defer c.unregisterPending(id)

	if err := conn.SendMessage(id, ipc.TypeSASRequest, ipc.SASRequest{WinSessionID: currentWinSessionID()}); err != nil {
		return fmt.Errorf("helper: sending sas_request: %w", err)
	}
	c.logger.Info("secure attention requested", "id", id)

	select {
	case envelope, ok := <-response:
		if !ok {
			return ErrNotConnected
		}
		if envelope.Error != "" {
			return fmt.Errorf("helper: sas_request failed: %s", envelope.Error)
		}
		result, err := ipc.DecodePayload[ipc.SASResponse](envelope)
		if err != nil {
			return err
		}
		if !result.OK {
			if result.Error != "" {
				return fmt.Errorf("helper: sas_request refused: %s", result.Error)
			}
			return errors.New("helper: sas_request refused")
		}
		return nil
	case <-c.clock.After(c.config.SASTimeout):
		return ErrSASTimeout
	case <-c.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) registerPending(id string) (chan *ipc.Envelope, error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.pending == nil {
		return nil, ErrNotConnected
	}
	response := make(chan *ipc.Envelope, 1)
	c.pending[id] = response
	return response, nil
}

func (c *Client) unregisterPending(id string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pending, id)
}

// resolvePending hands envelope to the request waiting on its id. The
// send happens under the lock so failPending cannot close the channel
// underneath it.
func (c *Client) resolvePending(envelope *ipc.Envelope) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	response, ok := c.pending[envelope.ID]
	if !ok {
		return false
	}
	delete(c.pending, envelope.ID)
	response <- envelope
	return true
}

// failPending wakes every waiter with a closed channel and refuses new
// registrations.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, response := range c.pending {
		close(response)
		delete(c.pending, id)
	}
	c.pending = nil
}

func (c *Client) sendTrayAction(conn *ipc.Conn, itemID string) {
	id := fmt.Sprintf("tray-%d", c.traySequence.Add(1))
	if err := conn.SendMessage(id, ipc.TypeTrayAction, ipc.TrayAction{ItemID: itemID}); err != nil {
		c.logger.Debug("sending tray action", "item_id", itemID, "error", err)
	}
}

// reply sends a response frame, logging rather than returning failure:
// the request is already consumed and the read loop notices a dead
// connection on its own.
func (c *Client) reply(conn *ipc.Conn, id, messageType string, payload any) {
	if err := conn.SendMessage(id, messageType, payload); err != nil {
		c.logSendFailure(messageType, id, err)
	}
}

func (c *Client) replyError(conn *ipc.Conn, id, messageType, message string) {
	if err := conn.SendError(id, messageType, message); err != nil {
		c.logSendFailure(messageType, id, err)
	}
}

func (c *Client) logSendFailure(messageType, id string, err error) {
	if c.stopped() || netutil.IsExpectedCloseError(err) {
		c.logger.Debug("reply not sent", "type", messageType, "id", id, "error", err)
		return
	}
	c.logger.Warn("reply not sent", "type", messageType, "id", id, "error", err)
}
