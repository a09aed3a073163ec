// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package helper is the unprivileged end of the desktop broker
// socket: a process running inside an interactive user's session that
// performs desktop work on the privileged daemon's behalf.
//
// Client.Run dials the broker, proves its identity, announces what the
// desktop can do, and then serves requests until the broker goes away
// or Stop is called. The work itself is delegated to small interfaces
// so the host binary chooses the backends:
//
//   - Notifier shows desktop notifications.
//   - TrayManager owns the status icon and reports menu clicks.
//   - Clipboard reads and writes the user's clipboard.
//   - ScriptExecutor runs scripts as the user (ShellExecutor is the
//     os/exec implementation).
//   - ToolRunner handles take_screenshot and computer_action.
//   - DesktopSessions runs remote-desktop sessions; the helper only
//     validates and relays the offer and answer.
//
// NewNotifier and NewClipboard return the native backend for the
// running platform. A nil backend makes the matching requests fail
// with a clear error rather than crash the helper.
package helper
