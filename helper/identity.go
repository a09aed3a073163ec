// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"fmt"
	"os/user"
	"runtime"
	"strconv"
	"strings"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// Identity is what the helper claims about itself in auth_request. The
// broker checks it against the kernel's view of the connection.
type Identity struct {
	UID      uint32
	SID      string
	Username string
}

// CurrentIdentity reports the user this process runs as. On Windows
// os/user returns the SID in Uid.
func CurrentIdentity() (Identity, error) {
	current, err := user.Current()
	if err != nil {
		return Identity{}, fmt.Errorf("helper: looking up current user: %w", err)
	}
	identity := Identity{Username: current.Username}
	uid, err := strconv.ParseUint(current.Uid, 10, 32)
	if err != nil {
		identity.SID = current.Uid
		return identity, nil
	}
	identity.UID = uint32(uid)
	return identity, nil
}

// DetectDisplayEnv describes the display this process can reach:
// "windows", "quartz", "wayland:<display>", "x11:<display>", or "" when
// none is attached.
func DetectDisplayEnv(getenv func(string) string) string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "quartz"
	}
	if display := getenv("WAYLAND_DISPLAY"); display != "" {
		return "wayland:" + display
	}
	if display := getenv("DISPLAY"); display != "" {
		return "x11:" + display
	}
	return ""
}

// DetectCapabilities derives the capability announcement from the
// display environment. Without a display nothing is supported.
func DetectCapabilities(displayEnv string) ipc.Capabilities {
	attached := displayEnv != ""
	server, _, _ := strings.Cut(displayEnv, ":")
	return ipc.Capabilities{
		SupportsNotify:    attached,
		SupportsTray:      attached,
		SupportsCapture:   attached,
		SupportsClipboard: attached,
		DisplayServer:     server,
	}
}
