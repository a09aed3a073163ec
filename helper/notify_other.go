// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix && !windows

package helper

import (
	"context"
	"errors"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// NewNotifier returns a Notifier that always fails: this platform has
// no desktop notification service.
func NewNotifier() Notifier { return unsupportedNotifier{} }

type unsupportedNotifier struct{}

func (unsupportedNotifier) Notify(context.Context, ipc.NotifyRequest) (ipc.NotifyResult, error) {
	return ipc.NotifyResult{}, errors.New("helper: notifications not supported on this platform")
}
