// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loginsession

import (
	"context"
	"fmt"
	"strconv"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	wtsapi32                        = windows.NewLazySystemDLL("wtsapi32.dll")
	procWTSQuerySessionInformationW = wtsapi32.NewProc("WTSQuerySessionInformationW")
)

// WTS_INFO_CLASS values.
const (
	wtsUserName           = 5
	wtsClientProtocolType = 16
)

const wtsCurrentServerHandle = windows.Handle(0)

// List returns the Terminal Services sessions with a logged-on user.
// Session 0 (services) and listener sessions are skipped.
func List(ctx context.Context) ([]Session, error) {
	var info *windows.WTS_SESSION_INFO
	var count uint32
	if err := windows.WTSEnumerateSessions(wtsCurrentServerHandle, 0, 1, &info, &count); err != nil {
		return nil, fmt.Errorf("loginsession: WTSEnumerateSessions: %w", err)
	}
	defer windows.WTSFreeMemory(uintptr(unsafe.Pointer(info)))

	var sessions []Session
	for _, entry := range unsafe.Slice(info, count) {
		if entry.SessionID == 0 {
			continue
		}
		var state string
		switch entry.State {
		case windows.WTSActive:
			state = StateActive
		case windows.WTSDisconnected:
			state = StateDisconnected
		default:
			continue
		}
		username := queryUsername(entry.SessionID)
		if username == "" {
			continue
		}
		sessions = append(sessions, Session{
			SessionID:   strconv.FormatUint(uint64(entry.SessionID), 10),
			Username:    username,
			SID:         sessionSID(entry.SessionID),
			Remote:      queryProtocolType(entry.SessionID) != 0,
			DisplayType: "windows",
			State:       state,
		})
	}
	return sessions, nil
}

// querySessionInformation returns the WTS-allocated buffer for class,
// or nil. The caller frees it with freeSessionInformation.
func querySessionInformation(sessionID uint32, class uint32) *uint16 {
	var buffer *uint16
	var returned uint32
	result, _, _ := procWTSQuerySessionInformationW.Call(
		uintptr(wtsCurrentServerHandle),
		uintptr(sessionID),
		uintptr(class),
		uintptr(unsafe.Pointer(&buffer)),
		uintptr(unsafe.Pointer(&returned)),
	)
	if result == 0 {
		return nil
	}
	return buffer
}

func freeSessionInformation(buffer *uint16) {
	windows.WTSFreeMemory(uintptr(unsafe.Pointer(buffer)))
}

func queryUsername(sessionID uint32) string {
	buffer := querySessionInformation(sessionID, wtsUserName)
	if buffer == nil {
		return ""
	}
	defer freeSessionInformation(buffer)
	return windows.UTF16PtrToString(buffer)
}

// queryProtocolType returns 0 for the physical console, 2 for RDP.
// WTSClientProtocolType is a USHORT at the start of the buffer.
func queryProtocolType(sessionID uint32) uint16 {
	buffer := querySessionInformation(sessionID, wtsClientProtocolType)
	if buffer == nil {
		return 0
	}
	defer freeSessionInformation(buffer)
	return *buffer
}

// sessionSID reads the logged-on user's SID from the session token.
// WTSQueryUserToken needs SeTcbPrivilege, so outside a SYSTEM service
// this returns "".
func sessionSID(sessionID uint32) string {
	var token windows.Token
	if err := windows.WTSQueryUserToken(sessionID, &token); err != nil {
		return ""
	}
	defer token.Close()
	tokenUser, err := token.GetTokenUser()
	if err != nil {
		return ""
	}
	return tokenUser.User.Sid.String()
}
