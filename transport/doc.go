// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the local endpoint between the root
// daemon and user helpers, and the kernel's view of who is on the
// other end of a connection.
//
// On Unix the endpoint is a stream socket whose file mode limits who
// may connect. On Windows it is a named pipe with a security
// descriptor granting SYSTEM full control and interactive users read
// and write.
//
// [PeerCredentials] is the root of trust for the broker handshake. It
// only uses kernel facilities (SO_PEERCRED, LOCAL_PEERCRED, the pipe
// client's process token) and never inspects anything the peer sent.
package transport
