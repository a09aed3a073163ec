// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-deskbroker connects an agent running as a system service to
// the interactive desktops of the users logged in to the machine.
//
// The daemon subcommand runs the privileged broker. The user-helper
// subcommand runs inside each graphical session, authenticates to the
// broker, and performs desktop work (notifications, tray, clipboard,
// scripts, remote desktop) on its behalf.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/deskbroker/lib/config"
	"github.com/bureau-foundation/deskbroker/lib/process"
	"github.com/bureau-foundation/deskbroker/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCommand().execute(ctx, os.Stdout, os.Args[1:])
}

func rootCommand() *command {
	return &command{
		name:    "bureau-deskbroker",
		summary: "Privilege-separation broker between a system agent and user desktops",
		usage:   "bureau-deskbroker <command> [flags]",
		subcommands: []*command{
			daemonCommand(),
			userHelperCommand(),
			sessionsCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *command {
	return &command{
		name:    "version",
		summary: "Print version information",
		usage:   "bureau-deskbroker version",
		run: func(_ context.Context, stdout io.Writer, args []string) error {
			if len(args) > 0 {
				return process.Usagef("version takes no arguments")
			}
			_, err := fmt.Fprintln(stdout, version.Full())
			return err
		},
	}
}

// addConfigFlag registers --config on flagSet.
func addConfigFlag(flagSet *pflag.FlagSet, path *string) {
	flagSet.StringVar(path, "config", "", "configuration file (default $"+config.EnvironmentVariable+", else built-in defaults)")
}

// loadConfig reads path, or falls back to the environment variable and
// then the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
