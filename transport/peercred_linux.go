// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/deskbroker/lib/binhash"
)

// PeerCredentials reads SO_PEERCRED from the socket and resolves the
// peer's executable through /proc/<pid>/exe.
func PeerCredentials(conn net.Conn) (Credentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return Credentials{}, fmt.Errorf("transport: peer credentials need a unix socket, got %T", conn)
	}
	rawConn, err := unixConn.SyscallConn()
	if err != nil {
		return Credentials{}, fmt.Errorf("transport: accessing socket: %w", err)
	}

	var ucred *unix.Ucred
	var sockoptErr error
	if err := rawConn.Control(func(fd uintptr) {
		ucred, sockoptErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return Credentials{}, fmt.Errorf("transport: accessing socket: %w", err)
	}
	if sockoptErr != nil {
		return Credentials{}, fmt.Errorf("transport: SO_PEERCRED: %w", sockoptErr)
	}

	executable, err := binhash.ResolvePath("/proc/" + strconv.Itoa(int(ucred.Pid)) + "/exe")
	if err != nil {
		return Credentials{}, fmt.Errorf("transport: resolving executable of pid %d: %w", ucred.Pid, err)
	}

	return Credentials{
		PID:            int(ucred.Pid),
		UID:            ucred.Uid,
		GID:            ucred.Gid,
		ExecutablePath: executable,
	}, nil
}
