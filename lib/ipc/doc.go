// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the broker socket protocol shared by the root
// daemon and the per-user helper.
//
// A frame is a 4-byte big-endian length followed by one CBOR-encoded
// [Envelope]. Frames larger than [MaxFrameSize] or of zero length are
// protocol errors.
//
// A [Conn] starts unauthenticated, when only auth_request and
// auth_response may pass and neither carries a MAC. Once the broker
// issues a session key both ends call [Conn.SetSessionKey], and from
// then on every frame carries an HMAC-SHA256 tag over its canonical
// encoding and a strictly increasing sequence number. Each direction
// uses its own HKDF-derived key so a frame cannot be reflected back at
// its sender. A bad tag, a missing tag, or a replayed sequence number
// is reported as [ErrBadMAC] or [ErrReplay]; callers close the
// connection without replying.
//
// Payloads over a size threshold are compressed (zstd or lz4) before
// the MAC is computed.
package ipc
