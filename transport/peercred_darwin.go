// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/deskbroker/lib/binhash"
)

// PeerCredentials reads LOCAL_PEERCRED and LOCAL_PEERPID from the
// socket and looks up the peer's executable with proc_pidpath.
// Failing to find the executable is an error, never a fallback.
func PeerCredentials(conn net.Conn) (Credentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return Credentials{}, fmt.Errorf("transport: peer credentials need a unix socket, got %T", conn)
	}
	rawConn, err := unixConn.SyscallConn()
	if err != nil {
		return Credentials{}, fmt.Errorf("transport: accessing socket: %w", err)
	}

	var xucred *unix.Xucred
	var pid int
	var credErr, pidErr error
	if err := rawConn.Control(func(fd uintptr) {
		xucred, credErr = unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
		pid, pidErr = unix.GetsockoptInt(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERPID)
	}); err != nil {
		return Credentials{}, fmt.Errorf("transport: accessing socket: %w", err)
	}
	if credErr != nil {
		return Credentials{}, fmt.Errorf("transport: LOCAL_PEERCRED: %w", credErr)
	}
	if pidErr != nil {
		return Credentials{}, fmt.Errorf("transport: LOCAL_PEERPID: %w", pidErr)
	}

	peer, err := process.NewProcessWithContext(context.Background(), int32(pid))
	if err != nil {
		return Credentials{}, fmt.Errorf("transport: looking up pid %d: %w", pid, err)
	}
	executable, err := peer.Exe()
	if err != nil {
		return Credentials{}, fmt.Errorf("transport: executable of pid %d: %w", pid, err)
	}
	resolved, err := binhash.ResolvePath(executable)
	if err != nil {
		return Credentials{}, err
	}

	credentials := Credentials{PID: pid, UID: xucred.Uid, ExecutablePath: resolved}
	if xucred.Ngroups > 0 {
		credentials.GID = xucred.Groups[0]
	}
	return credentials, nil
}
