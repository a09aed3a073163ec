// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/deskbroker/lib/process"
)

// command is a node in the CLI tree. A command with subcommands
// dispatches to them; a leaf command parses its flags and calls run.
type command struct {
	name        string
	summary     string
	usage       string
	description string

	// flags returns a fresh FlagSet bound to the command's variables.
	// Nil means the command takes no flags.
	flags func() *pflag.FlagSet

	run func(ctx context.Context, stdout io.Writer, args []string) error

	subcommands []*command
}

// execute dispatches args through the tree.
func (c *command) execute(ctx context.Context, stdout io.Writer, args []string) error {
	if len(c.subcommands) > 0 {
		if len(args) == 0 || isHelp(args[0]) {
			c.printHelp(stdout)
			return nil
		}
		name := args[0]
		if name == "help" {
			if len(args) > 1 {
				if sub := c.find(args[1]); sub != nil {
					sub.printHelp(stdout)
					return nil
				}
				return process.Usagef("unknown command %q\n\nRun '%s --help' for usage.", args[1], c.name)
			}
			c.printHelp(stdout)
			return nil
		}
		sub := c.find(name)
		if sub == nil {
			return process.Usagef("unknown command %q\n\nRun '%s --help' for usage.", name, c.name)
		}
		return sub.execute(ctx, stdout, args[1:])
	}

	flagSet := c.flagSet()
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			c.printHelp(stdout)
			return nil
		}
		return process.Usagef("%s: %v\n\nRun '%s --help' for usage.", c.name, err, c.name)
	}
	if c.run == nil {
		return fmt.Errorf("command %q has no implementation", c.name)
	}
	return c.run(ctx, stdout, flagSet.Args())
}

func (c *command) find(name string) *command {
	for _, sub := range c.subcommands {
		if sub.name == name {
			return sub
		}
	}
	return nil
}

func (c *command) flagSet() *pflag.FlagSet {
	var flagSet *pflag.FlagSet
	if c.flags != nil {
		flagSet = c.flags()
	} else {
		flagSet = pflag.NewFlagSet(c.name, pflag.ContinueOnError)
	}
	flagSet.SetOutput(io.Discard)
	return flagSet
}

func (c *command) printHelp(w io.Writer) {
	usage := c.usage
	if usage == "" {
		usage = c.name
	}
	fmt.Fprintf(w, "Usage: %s\n", usage)
	if c.description != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(c.description))
	} else if c.summary != "" {
		fmt.Fprintf(w, "\n%s\n", c.summary)
	}

	if len(c.subcommands) > 0 {
		width := 0
		for _, sub := range c.subcommands {
			width = max(width, len(sub.name))
		}
		fmt.Fprintf(w, "\nCommands:\n")
		for _, sub := range c.subcommands {
			fmt.Fprintf(w, "  %-*s  %s\n", width, sub.name, sub.summary)
		}
		fmt.Fprintf(w, "\nRun '%s <command> --help' for details.\n", c.name)
		return
	}

	if c.flags != nil {
		if usages := c.flags().FlagUsages(); usages != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", usages)
		}
	}
}

func isHelp(arg string) bool {
	return arg == "-h" || arg == "--help"
}
