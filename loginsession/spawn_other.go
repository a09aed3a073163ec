// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package loginsession

// SpawnHelper is only implemented on Windows. Elsewhere the helper is
// started by the desktop session itself (a launchd LaunchAgent, a
// systemd user unit, or an XDG autostart entry).
func SpawnHelper(sessionID uint32, arguments ...string) (int, error) {
	return 0, ErrSpawnUnsupported
}
