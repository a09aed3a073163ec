// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package netutil

func isPlatformCloseError(error) bool { return false }
