// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import "golang.org/x/sys/windows"

// currentWinSessionID is the Terminal Services session of this
// process, or zero when it cannot be determined.
func currentWinSessionID() uint32 {
	var sessionID uint32
	if err := windows.ProcessIdToSessionId(windows.GetCurrentProcessId(), &sessionID); err != nil {
		return 0
	}
	return sessionID
}
