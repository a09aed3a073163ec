// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/deskbroker/broker"
	"github.com/bureau-foundation/deskbroker/lib/codec"
	"github.com/bureau-foundation/deskbroker/lib/config"
	"github.com/bureau-foundation/deskbroker/lib/ipc"
	"github.com/bureau-foundation/deskbroker/lib/process"
	"github.com/bureau-foundation/deskbroker/lib/version"
	"github.com/bureau-foundation/deskbroker/loginsession"
	"github.com/bureau-foundation/deskbroker/transport"
)

func daemonCommand() *command {
	var configPath string
	return &command{
		name:    "daemon",
		summary: "Run the privileged session broker",
		usage:   "bureau-deskbroker daemon [--config PATH]",
		description: `Run the session broker as a system service.

The broker listens on a local socket (named pipe on Windows), verifies
each connecting user helper by kernel peer credentials and executable
hash, and keeps one authenticated session per helper. It watches login
sessions and, on Windows, starts a user helper in each new graphical
session.`,
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("daemon", pflag.ContinueOnError)
			addConfigFlag(flagSet, &configPath)
			return flagSet
		},
		run: func(ctx context.Context, _ io.Writer, args []string) error {
			if len(args) > 0 {
				return process.Usagef("daemon takes no arguments")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			return runDaemon(ctx, cfg, configPath, logger)
		},
	}
}

// daemon owns the broker and reacts to helper messages and login
// session changes.
type daemon struct {
	config     *config.Config
	configPath string
	logger     *slog.Logger
	broker     *broker.Broker

	// Replaced in tests.
	sendSAS        func() error
	spawnHelper    func(sessionID uint32, arguments ...string) (int, error)
	resetRateLimit func(identityKey string)
}

func runDaemon(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger) error {
	d := &daemon{
		config:      cfg,
		configPath:  configPath,
		logger:      logger,
		sendSAS:     loginsession.SendSecureAttention,
		spawnHelper: loginsession.SpawnHelper,
	}

	brokerConfig, err := brokerConfigFrom(cfg)
	if err != nil {
		return err
	}
	brokerConfig.OnMessage = d.handleMessage
	brokerConfig.Logger = logger.With("component", "broker")

	d.broker, err = broker.New(brokerConfig)
	if err != nil {
		return err
	}
	d.resetRateLimit = d.broker.ResetRateLimit

	logger.LogAttrs(ctx, slog.LevelInfo, "deskbroker daemon starting",
		append(version.LogAttrs(),
			slog.String("environment", string(cfg.Environment)),
			slog.String("address", brokerConfig.Listen.Address),
		)...)

	watchContext, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	events := loginsession.Watch(watchContext, loginsession.System, loginsession.WatchOptions{
		Interval: cfg.Detector.PollInterval.Value(),
		Logger:   logger.With("component", "detector"),
	})

	var watchers sync.WaitGroup
	watchers.Go(func() {
		if d.spawnEnabled() {
			d.spawnExisting(watchContext)
		}
		for event := range events {
			d.handleSessionEvent(event)
		}
	})

	listenErr := d.broker.Listen(ctx)
	cancelWatch()
	watchers.Wait()
	if listenErr != nil {
		return listenErr
	}
	logger.Info("deskbroker daemon stopped")
	return nil
}

// brokerConfigFrom maps the configuration file onto broker.Config.
func brokerConfigFrom(cfg *config.Config) (broker.Config, error) {
	mode, err := cfg.SocketMode()
	if err != nil {
		return broker.Config{}, err
	}
	compression, err := ipc.ParseCompression(cfg.Broker.Compression)
	if err != nil {
		return broker.Config{}, err
	}
	address := cfg.Socket.Address
	if address == "" {
		address = transport.DefaultAddress
	}
	return broker.Config{
		Listen: transport.ListenConfig{
			Address:            address,
			Mode:               mode,
			Group:              cfg.Socket.Group,
			SecurityDescriptor: cfg.Socket.SecurityDescriptor,
		},
		DisableHashPinning: cfg.Broker.DisableHashPinning,
		Scopes:             cfg.Broker.Scopes,
		AgentID:            cfg.Broker.AgentID,
		IPC: ipc.Options{
			Compression:       compression,
			CompressThreshold: cfg.Broker.CompressThreshold,
		},
		HandshakeTimeout:       cfg.Broker.HandshakeTimeout.Value(),
		IdleTimeout:            cfg.Broker.IdleTimeout.Value(),
		IdleCheckInterval:      cfg.Broker.IdleCheckInterval.Value(),
		MaxSessionsPerIdentity: cfg.Broker.MaxSessionsPerIdentity,
		RateLimitAttempts:      cfg.Broker.RateLimitAttempts,
		RateLimitWindow:        cfg.Broker.RateLimitWindow.Value(),
	}, nil
}

// handleMessage serves helper-initiated requests. It runs on the
// session's receive loop.
func (d *daemon) handleMessage(session *broker.Session, envelope *ipc.Envelope) {
	logger := d.logger.With("session_id", session.SessionID, "username", session.Username)
	switch envelope.Type {
	case ipc.TypeSASRequest:
		if err := session.Reply(envelope.ID, ipc.TypeSASResponse, d.secureAttention(logger)); err != nil {
			logger.Warn("sending sas_response", "error", err)
		}
	case ipc.TypeTrayAction:
		var action ipc.TrayAction
		if err := codec.Unmarshal(envelope.Payload, &action); err != nil {
			logger.Warn("malformed tray_action", "error", err)
			return
		}
		logger.Info("tray action", "item_id", action.ItemID)
	default:
		logger.Debug("ignoring helper message", "type", envelope.Type, "id", envelope.ID)
	}
}

func (d *daemon) secureAttention(logger *slog.Logger) ipc.SASResponse {
	if err := d.sendSAS(); err != nil {
		logger.Warn("secure attention sequence failed", "error", err)
		return ipc.SASResponse{Error: err.Error()}
	}
	logger.Info("secure attention sequence sent")
	return ipc.SASResponse{OK: true}
}

func (d *daemon) spawnEnabled() bool {
	return d.config.Detector.SpawnHelpers && runtime.GOOS == "windows"
}

// spawnExisting starts helpers for graphical sessions that were already
// logged in when the daemon started.
func (d *daemon) spawnExisting(ctx context.Context) {
	sessions, err := loginsession.List(ctx)
	if err != nil {
		d.logger.Warn("listing login sessions", "error", err)
		return
	}
	for _, session := range sessions {
		if session.State == loginsession.StateActive || session.State == loginsession.StateOnline {
			d.spawnFor(session)
		}
	}
}

func (d *daemon) handleSessionEvent(event loginsession.Event) {
	d.logger.Info("login session event",
		"event", event.Kind,
		"session", event.Session.SessionID,
		"username", event.Session.Username,
		"state", event.Session.State,
	)
	if event.Kind != loginsession.EventLogin {
		return
	}
	// A fresh login starts the user's helper with a clean attempt budget.
	if d.resetRateLimit != nil {
		d.resetRateLimit(event.Session.IdentityKey())
	}
	if d.spawnEnabled() {
		d.spawnFor(event.Session)
	}
}

// spawnFor starts a helper in session unless it is not graphical or a
// helper from it is already connected.
func (d *daemon) spawnFor(session loginsession.Session) {
	if !session.Graphical() {
		return
	}
	id, err := strconv.ParseUint(session.SessionID, 10, 32)
	if err != nil {
		d.logger.Warn("login session id is not numeric", "session", session.SessionID)
		return
	}
	if d.helperConnected(uint32(id)) {
		return
	}
	pid, err := d.spawnHelper(uint32(id), d.helperArguments()...)
	if err != nil {
		d.logger.Error("starting user helper", "session", session.SessionID, "username", session.Username, "error", err)
		return
	}
	d.logger.Info("started user helper", "session", session.SessionID, "username", session.Username, "pid", pid)
}

func (d *daemon) helperConnected(winSessionID uint32) bool {
	if d.broker == nil {
		return false
	}
	for _, info := range d.broker.AllSessions() {
		if info.WinSessionID == winSessionID {
			return true
		}
	}
	return false
}

// helperArguments are passed after "user-helper" to spawned helpers so
// they reach the same endpoint with the same settings.
func (d *daemon) helperArguments() []string {
	var arguments []string
	if d.configPath != "" {
		arguments = append(arguments, "--config", d.configPath)
	}
	if d.config.Socket.Address != "" {
		arguments = append(arguments, "--address", d.config.Socket.Address)
	}
	return arguments
}

