// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps per-connection session keys out of the Go heap.
//
// A [Buffer] is allocated with mmap (Unix) or VirtualAlloc (Windows),
// locked against paging, and on Linux excluded from core dumps. Close
// zeroes and releases it; any later read panics. The garbage collector
// never sees the memory, so no stray copy of a key outlives the
// connection that negotiated it.
package secret
