// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// NewNotifier returns the Notification Center notifier, driven through
// osascript.
func NewNotifier() Notifier { return osascriptNotifier{} }

type osascriptNotifier struct{}

// notificationScript takes title and body as arguments, so neither is
// ever parsed as AppleScript.
var notificationScript = []string{
	"-e", "on run argv",
	"-e", "display notification (item 2 of argv) with title (item 1 of argv)",
	"-e", "end run",
}

func (osascriptNotifier) Notify(ctx context.Context, request ipc.NotifyRequest) (ipc.NotifyResult, error) {
	args := append(append([]string(nil), notificationScript...), request.Title, request.Body)
	if _, err := runTool(ctx, "", nil, "osascript", args...); err != nil {
		return ipc.NotifyResult{}, err
	}
	return ipc.NotifyResult{Delivered: true}, nil
}
