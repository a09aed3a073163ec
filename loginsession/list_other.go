// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux && !darwin && !windows

package loginsession

import "context"

// List returns the sessions in the utmp user table.
func List(ctx context.Context) ([]Session, error) {
	return listUsers(ctx)
}
