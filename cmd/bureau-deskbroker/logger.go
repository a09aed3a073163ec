// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/deskbroker/lib/config"
)

// newLogger builds the process logger from the log section. Format
// "auto" writes human-readable text when output is a terminal and JSON
// otherwise, so service managers and log collectors get structured
// records.
func newLogger(options config.LogConfig, output io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if options.Level != "" {
		if err := level.UnmarshalText([]byte(options.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	handlerOptions := &slog.HandlerOptions{Level: level}

	var text bool
	switch options.Format {
	case "text":
		text = true
	case "json":
		text = false
	case "", "auto":
		text = isTerminal(output)
	default:
		return nil, fmt.Errorf("unknown log format %q", options.Format)
	}

	if text {
		return slog.New(slog.NewTextHandler(output, handlerOptions)), nil
	}
	return slog.New(slog.NewJSONHandler(output, handlerOptions)), nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
