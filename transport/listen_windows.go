// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

const pipeBufferSize = 64 << 10

// Listen creates the broker named pipe.
func Listen(config ListenConfig) (net.Listener, error) {
	descriptor := config.SecurityDescriptor
	if descriptor == "" {
		descriptor = DefaultPipeSecurityDescriptor
	}
	listener, err := winio.ListenPipe(config.address(), &winio.PipeConfig{
		SecurityDescriptor: descriptor,
		InputBufferSize:    pipeBufferSize,
		OutputBufferSize:   pipeBufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %s: %w", config.address(), err)
	}
	return listener, nil
}

// Dial connects to the broker pipe.
func Dial(ctx context.Context, address string) (net.Conn, error) {
	if address == "" {
		address = DefaultAddress
	}
	return winio.DialPipeContext(ctx, address)
}

// Remove is a no-op: a named pipe disappears with its last handle.
func Remove(string) error { return nil }
