// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

const (
	// DefaultSocketMode leaves other users without access to the socket.
	DefaultSocketMode os.FileMode = 0660

	// SocketDirMode is applied to a socket directory Listen creates.
	SocketDirMode os.FileMode = 0750
)

// Listen creates the broker socket, replacing a stale socket file left
// by a previous run. It refuses to remove anything that is not a
// socket.
func Listen(config ListenConfig) (net.Listener, error) {
	address := config.address()

	info, err := os.Lstat(address)
	switch {
	case err == nil:
		if info.Mode()&fs.ModeSocket == 0 {
			return nil, fmt.Errorf("transport: %s exists and is not a socket", address)
		}
		if err := os.Remove(address); err != nil {
			return nil, fmt.Errorf("transport: removing stale socket %s: %w", address, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("transport: checking %s: %w", address, err)
	}

	gid := -1
	if config.Group != "" {
		gid, err = lookupGroupID(config.Group)
		if err != nil {
			return nil, err
		}
	}
	if err := createSocketDir(filepath.Dir(address), gid); err != nil {
		return nil, err
	}

	listener, err := net.Listen("unix", address)
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %s: %w", address, err)
	}

	mode := config.Mode
	if mode == 0 {
		mode = DefaultSocketMode
	}
	if gid >= 0 {
		if err := os.Chown(address, -1, gid); err != nil {
			listener.Close()
			return nil, fmt.Errorf("transport: setting group of %s: %w", address, err)
		}
	}
	if err := os.Chmod(address, mode); err != nil {
		listener.Close()
		return nil, fmt.Errorf("transport: setting mode of %s: %w", address, err)
	}
	return listener, nil
}

// createSocketDir creates dir with SocketDirMode when it does not exist,
// handing it to gid when gid is not negative. An existing directory is
// left as the administrator set it up.
func createSocketDir(dir string, gid int) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("transport: checking socket directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, SocketDirMode); err != nil {
		return fmt.Errorf("transport: creating socket directory %s: %w", dir, err)
	}
	// MkdirAll is subject to the umask.
	if err := os.Chmod(dir, SocketDirMode); err != nil {
		return fmt.Errorf("transport: setting mode of %s: %w", dir, err)
	}
	if gid >= 0 {
		if err := os.Chown(dir, -1, gid); err != nil {
			return fmt.Errorf("transport: setting group of %s: %w", dir, err)
		}
	}
	return nil
}

func lookupGroupID(name string) (int, error) {
	group, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("transport: looking up group %q: %w", name, err)
	}
	gid, err := strconv.Atoi(group.Gid)
	if err != nil {
		return 0, fmt.Errorf("transport: group %q has non-numeric gid %q", name, group.Gid)
	}
	return gid, nil
}

// Dial connects to the broker socket.
func Dial(ctx context.Context, address string) (net.Conn, error) {
	if address == "" {
		address = DefaultAddress
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, "unix", address)
}

// Remove deletes the socket file at address if it exists.
func Remove(address string) error {
	if address == "" {
		address = DefaultAddress
	}
	if err := os.Remove(address); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("transport: removing %s: %w", address, err)
	}
	return nil
}
