// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash identifies executables by resolved path and by
// content.
//
// The broker only accepts helpers that are the same binary it is
// running. Two checks use this package: the peer's executable path,
// after symlink resolution, must equal the broker's own; and, with
// pinning enabled, the BLAKE3 digest the helper reports for its own
// executable must equal the broker's digest of itself.
//
//   - [HashFile] streams a file through BLAKE3
//   - [Self] resolves and hashes the running executable
//   - [ResolvePath] and [SamePath] compare executable locations
//   - [FormatDigest] and [ParseDigest] convert to and from the hex
//     form carried in the handshake
package binhash
