// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/windows"

	"github.com/bureau-foundation/deskbroker/lib/binhash"
)

type handleConn interface {
	Fd() uintptr
}

// PeerCredentials asks the pipe for its client process, then reads
// the user SID from that process's token and its image path.
func PeerCredentials(conn net.Conn) (Credentials, error) {
	pipe, ok := conn.(handleConn)
	if !ok {
		return Credentials{}, fmt.Errorf("transport: peer credentials need a named pipe, got %T", conn)
	}

	var pid uint32
	if err := windows.GetNamedPipeClientProcessId(windows.Handle(pipe.Fd()), &pid); err != nil {
		return Credentials{}, fmt.Errorf("transport: GetNamedPipeClientProcessId: %w", err)
	}

	process, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return Credentials{}, fmt.Errorf("transport: opening pid %d: %w", pid, err)
	}
	defer windows.CloseHandle(process)

	var token windows.Token
	if err := windows.OpenProcessToken(process, windows.TOKEN_QUERY, &token); err != nil {
		return Credentials{}, fmt.Errorf("transport: opening token of pid %d: %w", pid, err)
	}
	defer token.Close()

	tokenUser, err := token.GetTokenUser()
	if err != nil {
		return Credentials{}, fmt.Errorf("transport: reading token user of pid %d: %w", pid, err)
	}

	buffer := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buffer))
	if err := windows.QueryFullProcessImageName(process, 0, &buffer[0], &size); err != nil {
		return Credentials{}, fmt.Errorf("transport: image name of pid %d: %w", pid, err)
	}
	executable, err := binhash.ResolvePath(windows.UTF16ToString(buffer[:size]))
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{
		PID:            int(pid),
		SID:            tokenUser.User.Sid.String(),
		ExecutablePath: executable,
	}, nil
}
