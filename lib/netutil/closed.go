// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies connection errors seen on the broker
// socket.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is an ordinary end of a
// broker or helper connection: EOF, use of a closed connection, broken
// pipe, connection reset, or the named-pipe equivalents on Windows.
// Receive loops log these at debug level rather than as failures.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if errno == syscall.EPIPE || errno == syscall.ECONNRESET {
			return true
		}
	}
	return isPlatformCloseError(err)
}

// IsTimeout reports whether err is a deadline expiry on a net.Conn.
func IsTimeout(err error) bool {
	var netError net.Error
	return errors.As(err, &netError) && netError.Timeout()
}
