// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux && !darwin && !windows

package transport

import "net"

// PeerCredentials is unavailable on this platform, so the broker
// rejects every connection.
func PeerCredentials(net.Conn) (Credentials, error) {
	return Credentials{}, ErrUnsupported
}
