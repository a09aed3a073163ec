// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package loginsession

// SendSecureAttention is only implemented on Windows.
func SendSecureAttention() error { return ErrSASUnsupported }
