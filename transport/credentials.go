// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"net"
	"strconv"
)

// ErrUnsupported is returned by PeerCredentials on platforms without a
// kernel peer-credential mechanism.
var ErrUnsupported = errors.New("transport: peer credentials not supported on this platform")

// Credentials describe the process on the far side of a connection as
// reported by the kernel.
type Credentials struct {
	PID int

	// UID and GID are the effective ids on Unix, zero on Windows.
	UID uint32
	GID uint32

	// SID is the token user on Windows, empty on Unix.
	SID string

	// ExecutablePath is the peer's executable with symlinks resolved.
	ExecutablePath string
}

// IdentityKey returns the platform-neutral identity used to index
// sessions and rate limits: the SID on Windows, the decimal UID
// elsewhere.
func (c Credentials) IdentityKey() string {
	if c.SID != "" {
		return c.SID
	}
	return strconv.FormatUint(uint64(c.UID), 10)
}

// CredentialFunc resolves the peer of conn. PeerCredentials is the
// production implementation; tests substitute their own.
type CredentialFunc func(conn net.Conn) (Credentials, error)
