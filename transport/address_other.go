// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !darwin && !windows

package transport

// DefaultAddress is where the broker listens when not configured.
const DefaultAddress = "/run/bureau/deskbroker.sock"
