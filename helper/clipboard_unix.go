// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix && !darwin

package helper

import (
	"context"
	"os"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// NewClipboard returns a clipboard backed by wl-copy/wl-paste on
// Wayland and xclip on X11, chosen per call from the environment.
func NewClipboard() Clipboard { return toolClipboard{getenv: os.Getenv} }

type toolClipboard struct {
	getenv func(string) string
}

func (c toolClipboard) wayland() bool { return c.getenv("WAYLAND_DISPLAY") != "" }

func (c toolClipboard) Read(ctx context.Context) (ipc.ClipboardContent, error) {
	var text string
	var err error
	if c.wayland() {
		text, err = runTool(ctx, "", nil, "wl-paste", "--no-newline")
	} else {
		text, err = runTool(ctx, "", nil, "xclip", "-selection", "clipboard", "-out")
	}
	if err != nil {
		return ipc.ClipboardContent{}, err
	}
	return ipc.ClipboardContent{Text: text}, nil
}

func (c toolClipboard) Write(ctx context.Context, content ipc.ClipboardContent) error {
	if len(content.Image) > 0 {
		return ErrImageClipboard
	}
	if c.wayland() {
		_, err := runTool(ctx, content.Text, nil, "wl-copy")
		return err
	}
	_, err := runTool(ctx, content.Text, nil, "xclip", "-selection", "clipboard", "-in")
	return err
}
