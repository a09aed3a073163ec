// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the binary entrypoint helpers for
// bureau-deskbroker: reporting an error from run() to stderr before or
// after the structured logger exists, and choosing the exit code.
package process
