// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "os"

// ListenConfig describes the broker endpoint.
type ListenConfig struct {
	// Address is a socket path on Unix or a pipe name on Windows.
	// Empty means DefaultAddress.
	Address string

	// Mode is the socket file mode on Unix. Zero means 0660. Every
	// connection is still identified through PeerCredentials; the mode
	// only narrows who may try.
	Mode os.FileMode

	// Group, when set, becomes the group owner of the socket file and
	// of a socket directory that Listen creates.
	Group string

	// SecurityDescriptor is the pipe's SDDL on Windows. Empty means
	// DefaultPipeSecurityDescriptor.
	SecurityDescriptor string
}

// DefaultPipeSecurityDescriptor grants SYSTEM full control and
// interactive users read and write, with inherited ACEs blocked.
const DefaultPipeSecurityDescriptor = "D:P(A;;GA;;;SY)(A;;GRGW;;;IU)"

func (c ListenConfig) address() string {
	if c.Address == "" {
		return DefaultAddress
	}
	return c.Address
}
