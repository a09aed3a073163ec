// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package helper

func currentWinSessionID() uint32 { return 0 }
