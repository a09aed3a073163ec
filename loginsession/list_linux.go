// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loginsession

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// List returns the sessions systemd-logind knows about. Without
// loginctl it falls back to the utmp user table.
func List(ctx context.Context) ([]Session, error) {
	output, err := loginctl(ctx, "list-sessions", "--no-legend", "--no-pager")
	if errors.Is(err, exec.ErrNotFound) {
		return listUsers(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("loginsession: loginctl list-sessions: %w", err)
	}

	sessions := parseSessionList(output)
	for i := range sessions {
		properties, err := loginctl(ctx, "show-session", sessions[i].SessionID, "--property="+sessionProperties)
		if err != nil {
			// The session can end between the two calls; report what
			// the listing said.
			continue
		}
		applySessionProperties(&sessions[i], properties)
	}
	return sessions, nil
}

func loginctl(ctx context.Context, args ...string) (string, error) {
	output, err := exec.CommandContext(ctx, "loginctl", args...).Output()
	if err != nil {
		return "", err
	}
	return string(output), nil
}
