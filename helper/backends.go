// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/deskbroker/lib/codec"
	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(ctx context.Context, request ipc.NotifyRequest) (ipc.NotifyResult, error)
}

// TrayManager owns the status icon. The Client installs an action
// handler before the first Update; the manager calls it with the menu
// item id whenever the user clicks an item.
type TrayManager interface {
	Update(update ipc.TrayUpdate) error
	SetActionHandler(handler func(itemID string))
}

// Clipboard reads and writes the user's clipboard.
type Clipboard interface {
	Read(ctx context.Context) (ipc.ClipboardContent, error)
	Write(ctx context.Context, content ipc.ClipboardContent) error
}

// ScriptResult is the outcome of one script run. Error describes a
// failure that happened around the script (timeout, missing
// interpreter) rather than inside it.
type ScriptResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Error    string
}

// ScriptExecutor runs a script in the user's context.
type ScriptExecutor interface {
	Execute(ctx context.Context, language, content string, timeoutSeconds int) (ScriptResult, error)
}

// ToolRunner handles the desktop tool commands (take_screenshot,
// computer_action) that need the user's display.
type ToolRunner interface {
	Run(ctx context.Context, commandType string, payload codec.RawMessage) (ipc.CommandResult, error)
}

// DesktopSessions runs remote-desktop sessions. Offers and ICE servers
// are validated before they reach it.
type DesktopSessions interface {
	StartSession(sessionID, offer string, iceServers []webrtc.ICEServer, displayIndex int) (answer string, err error)
	StopSession(sessionID string)
	StopAllSessions()
	HandleInput(sessionID string, event codec.RawMessage) error
}
