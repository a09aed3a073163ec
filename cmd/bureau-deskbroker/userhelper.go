// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/deskbroker/helper"
	"github.com/bureau-foundation/deskbroker/lib/clock"
	"github.com/bureau-foundation/deskbroker/lib/config"
	"github.com/bureau-foundation/deskbroker/lib/ipc"
	"github.com/bureau-foundation/deskbroker/lib/process"
)

func userHelperCommand() *command {
	var (
		configPath string
		address    string
	)
	return &command{
		name:    "user-helper",
		summary: "Run the desktop helper inside a user session",
		usage:   "bureau-deskbroker user-helper [--config PATH] [--address ADDR]",
		description: `Run the user helper in the current desktop session.

The helper connects to the broker, proves its identity, and performs
desktop work for it: notifications, tray status, clipboard access,
scripts as the user, and remote desktop sessions. When the broker goes
away the helper reconnects with exponential backoff until it is
signalled to stop.`,
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("user-helper", pflag.ContinueOnError)
			addConfigFlag(flagSet, &configPath)
			flagSet.StringVar(&address, "address", "", "broker socket or pipe (default from config, else the platform default)")
			return flagSet
		},
		run: func(ctx context.Context, _ io.Writer, args []string) error {
			if len(args) > 0 {
				return process.Usagef("user-helper takes no arguments")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if address == "" {
				address = cfg.Socket.Address
			}
			logger, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			return runUserHelper(ctx, cfg, address, logger)
		},
	}
}

func runUserHelper(ctx context.Context, cfg *config.Config, address string, logger *slog.Logger) error {
	compression, err := ipc.ParseCompression(cfg.Broker.Compression)
	if err != nil {
		return err
	}
	tray := helper.NewLogTray(logger.With("component", "tray"))
	notifier := helper.NewNotifier()
	clipboard := helper.NewClipboard()
	scripts := helper.ShellExecutor{MaxOutputBytes: cfg.Helper.ScriptMaxOutputBytes}

	connect := func(ctx context.Context) error {
		client := helper.New(helper.Config{
			Address:   address,
			Notifier:  notifier,
			Tray:      tray,
			Clipboard: clipboard,
			Scripts:   scripts,
			IPC: ipc.Options{
				Compression:       compression,
				CompressThreshold: cfg.Broker.CompressThreshold,
			},
			KeepaliveInterval:   cfg.Helper.KeepaliveInterval.Value(),
			MaxMissedKeepalives: cfg.Helper.MaxMissedKeepalives,
			SASTimeout:          cfg.Helper.SASTimeout.Value(),
			Logger:              logger,
		})
		return client.Run(ctx)
	}

	return reconnectLoop(ctx, connect, reconnectOptions{
		Delay:    cfg.Helper.ReconnectDelay.Value(),
		MaxDelay: cfg.Helper.MaxReconnectDelay.Value(),
		Clock:    clock.Real(),
		Logger:   logger,
	})
}

type reconnectOptions struct {
	Delay    time.Duration
	MaxDelay time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// reconnectLoop calls connect until ctx is cancelled. Each failure
// doubles the wait before the next attempt, up to MaxDelay; a
// connection that lasted longer than MaxDelay or ended with a clean
// disconnect resets it. A rejected handshake is returned: retrying
// with the same binary and identity cannot succeed.
func reconnectLoop(ctx context.Context, connect func(context.Context) error, options reconnectOptions) error {
	delay := options.Delay
	for {
		started := options.Clock.Now()
		err := connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, helper.ErrRejected) {
			return err
		}

		if err == nil || options.Clock.Now().Sub(started) > options.MaxDelay {
			delay = options.Delay
		}
		if err != nil {
			options.Logger.Warn("broker connection lost", "error", err, "retry_in", delay)
		} else {
			options.Logger.Info("broker disconnected", "retry_in", delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-options.Clock.After(delay):
		}
		delay = min(delay*2, options.MaxDelay)
	}
}
