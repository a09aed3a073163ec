// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package loginsession discovers interactive user sessions on the
// local machine and starts user helpers inside them.
//
// # Discovery
//
// [List] snapshots the sessions the operating system reports:
//
//   - Linux: systemd-logind via loginctl, falling back to the utmp user
//     table when loginctl is not installed.
//   - macOS: the owner of /dev/console.
//   - Windows: the Terminal Services session table (WTS API).
//   - Elsewhere: the utmp user table.
//
// [Watch] polls a [Lister] on a [clock.Clock] and reports the
// differences between consecutive snapshots as [Event] values: login,
// logout, lock, unlock and switch.
//
// # Spawning and secure attention
//
// [SpawnHelper] runs the user helper inside a Windows session under a
// copy of the service's SYSTEM token, and [SendSecureAttention] raises
// Ctrl+Alt+Del on behalf of a helper. Both return an Unsupported error
// on other platforms, where helpers start through the desktop's own
// autostart mechanism.
package loginsession
