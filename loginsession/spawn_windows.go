// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loginsession

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// SpawnHelper starts "<executable> user-helper <arguments...>" in the
// given Terminal Services session. The child runs under a copy of this
// process's SYSTEM token retargeted at the session, on the interactive
// desktop, so it can reach the secure desktops as well as Default. It
// returns the child's process id.
func SpawnHelper(sessionID uint32, arguments ...string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("loginsession: locating own executable: %w", err)
	}

	var processToken windows.Token
	process, err := windows.GetCurrentProcess()
	if err != nil {
		return 0, fmt.Errorf("loginsession: GetCurrentProcess: %w", err)
	}
	if err := windows.OpenProcessToken(process, windows.TOKEN_DUPLICATE|windows.TOKEN_QUERY, &processToken); err != nil {
		return 0, fmt.Errorf("loginsession: OpenProcessToken: %w", err)
	}
	defer processToken.Close()

	// CreateProcessAsUser needs a primary token; delegation keeps GPU
	// access working across the session boundary.
	var sessionToken windows.Token
	if err := windows.DuplicateTokenEx(processToken, windows.MAXIMUM_ALLOWED, nil,
		windows.SecurityDelegation, windows.TokenPrimary, &sessionToken); err != nil {
		return 0, fmt.Errorf("loginsession: DuplicateTokenEx: %w", err)
	}
	defer sessionToken.Close()

	if err := windows.SetTokenInformation(sessionToken, windows.TokenSessionId,
		(*byte)(unsafe.Pointer(&sessionID)), uint32(unsafe.Sizeof(sessionID))); err != nil {
		return 0, fmt.Errorf("loginsession: setting token session %d: %w", sessionID, err)
	}

	commandLine, err := windows.UTF16PtrFromString(helperCommandLine(executable, arguments))
	if err != nil {
		return 0, fmt.Errorf("loginsession: encoding command line: %w", err)
	}
	desktop, err := windows.UTF16PtrFromString(`winsta0\Default`)
	if err != nil {
		return 0, err
	}
	startup := windows.StartupInfo{
		Cb:      uint32(unsafe.Sizeof(windows.StartupInfo{})),
		Desktop: desktop,
	}
	var child windows.ProcessInformation
	err = windows.CreateProcessAsUser(sessionToken, nil, commandLine, nil, nil, false,
		windows.CREATE_NO_WINDOW|windows.CREATE_UNICODE_ENVIRONMENT, nil, nil, &startup, &child)
	if err != nil {
		return 0, fmt.Errorf("loginsession: CreateProcessAsUser in session %d: %w", sessionID, err)
	}
	windows.CloseHandle(child.Thread)
	windows.CloseHandle(child.Process)
	return int(child.ProcessId), nil
}

func helperCommandLine(executable string, arguments []string) string {
	return windows.ComposeCommandLine(append([]string{executable, "user-helper"}, arguments...))
}
