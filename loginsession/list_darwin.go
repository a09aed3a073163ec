// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loginsession

import (
	"context"
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// List returns the console session. macOS has one graphical session
// in the foreground; its user owns /dev/console. At the login window
// the console belongs to root and List returns nothing.
func List(ctx context.Context) ([]Session, error) {
	var status unix.Stat_t
	if err := unix.Stat("/dev/console", &status); err != nil {
		return nil, fmt.Errorf("loginsession: stat /dev/console: %w", err)
	}
	if status.Uid == 0 {
		return nil, nil
	}
	account, err := user.LookupId(strconv.FormatUint(uint64(status.Uid), 10))
	if err != nil {
		return nil, fmt.Errorf("loginsession: console owner %d: %w", status.Uid, err)
	}
	return []Session{{
		SessionID:   "console",
		Username:    account.Username,
		UID:         status.Uid,
		DisplayType: "quartz",
		State:       StateActive,
	}}, nil
}
