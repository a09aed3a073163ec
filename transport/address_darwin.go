// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

// DefaultAddress is where the broker listens when not configured.
const DefaultAddress = "/Library/Application Support/Bureau/deskbroker.sock"
