// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix && !windows

package helper

import (
	"context"
	"errors"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

var errNoClipboard = errors.New("helper: clipboard not supported on this platform")

// NewClipboard returns a Clipboard that always fails.
func NewClipboard() Clipboard { return unsupportedClipboard{} }

type unsupportedClipboard struct{}

func (unsupportedClipboard) Read(context.Context) (ipc.ClipboardContent, error) {
	return ipc.ClipboardContent{}, errNoClipboard
}

func (unsupportedClipboard) Write(context.Context, ipc.ClipboardContent) error {
	return errNoClipboard
}
