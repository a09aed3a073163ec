// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// NewClipboard returns the pasteboard clipboard (pbcopy/pbpaste).
func NewClipboard() Clipboard { return pasteboard{} }

type pasteboard struct{}

func (pasteboard) Read(ctx context.Context) (ipc.ClipboardContent, error) {
	text, err := runTool(ctx, "", nil, "pbpaste")
	if err != nil {
		return ipc.ClipboardContent{}, err
	}
	return ipc.ClipboardContent{Text: text}, nil
}

func (pasteboard) Write(ctx context.Context, content ipc.ClipboardContent) error {
	if len(content.Image) > 0 {
		return ErrImageClipboard
	}
	_, err := runTool(ctx, content.Text, nil, "pbcopy")
	return err
}
