// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"
	"strings"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// NewClipboard returns the Windows clipboard, driven through PowerShell.
func NewClipboard() Clipboard { return powershellClipboard{} }

type powershellClipboard struct{}

func (powershellClipboard) Read(ctx context.Context) (ipc.ClipboardContent, error) {
	text, err := runTool(ctx, "", nil, "powershell", "-NoProfile", "-NonInteractive", "-Command", "Get-Clipboard -Raw")
	if err != nil {
		return ipc.ClipboardContent{}, err
	}
	return ipc.ClipboardContent{Text: strings.TrimSuffix(text, "\r\n")}, nil
}

func (powershellClipboard) Write(ctx context.Context, content ipc.ClipboardContent) error {
	if len(content.Image) > 0 {
		return ErrImageClipboard
	}
	env := []string{"BUREAU_CLIPBOARD_TEXT=" + content.Text}
	_, err := runTool(ctx, "", env, "powershell", "-NoProfile", "-NonInteractive", "-Command",
		"Set-Clipboard -Value $env:BUREAU_CLIPBOARD_TEXT")
	return err
}
