// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix && !darwin

package helper

import (
	"context"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// NewNotifier returns the freedesktop notifier, which shells out to
// notify-send.
func NewNotifier() Notifier { return notifySend{} }

type notifySend struct{}

func (notifySend) Notify(ctx context.Context, request ipc.NotifyRequest) (ipc.NotifyResult, error) {
	args := []string{"--app-name=Bureau"}
	switch request.Urgency {
	case ipc.UrgencyLow, ipc.UrgencyNormal, ipc.UrgencyCritical:
		args = append(args, "--urgency="+request.Urgency)
	}
	if request.Icon != "" {
		args = append(args, "--icon="+request.Icon)
	}
	args = append(args, "--", request.Title, request.Body)
	if _, err := runTool(ctx, "", nil, "notify-send", args...); err != nil {
		return ipc.NotifyResult{}, err
	}
	return ipc.NotifyResult{Delivered: true}, nil
}
