// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"runtime"
	"testing"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

func TestDetectDisplayEnv(t *testing.T) {
	switch runtime.GOOS {
	case "windows", "darwin":
		if got := DetectDisplayEnv(func(string) string { return "" }); got == "" {
			t.Errorf("DetectDisplayEnv = empty on %s", runtime.GOOS)
		}
		return
	}

	tests := []struct {
		name        string
		environment map[string]string
		want        string
	}{
		{"none", nil, ""},
		{"x11", map[string]string{"DISPLAY": ":0"}, "x11::0"},
		{"wayland", map[string]string{"WAYLAND_DISPLAY": "wayland-0"}, "wayland:wayland-0"},
		{"wayland preferred", map[string]string{"WAYLAND_DISPLAY": "wayland-1", "DISPLAY": ":1"}, "wayland:wayland-1"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := DetectDisplayEnv(func(key string) string { return test.environment[key] })
			if got != test.want {
				t.Errorf("DetectDisplayEnv = %q, want %q", got, test.want)
			}
		})
	}
}

func TestDetectCapabilities(t *testing.T) {
	tests := []struct {
		displayEnv string
		want       ipc.Capabilities
	}{
		{"", ipc.Capabilities{}},
		{"x11::0", ipc.Capabilities{
			SupportsNotify: true, SupportsTray: true, SupportsCapture: true, SupportsClipboard: true,
			DisplayServer: "x11",
		}},
		{"wayland:wayland-0", ipc.Capabilities{
			SupportsNotify: true, SupportsTray: true, SupportsCapture: true, SupportsClipboard: true,
			DisplayServer: "wayland",
		}},
		{"windows", ipc.Capabilities{
			SupportsNotify: true, SupportsTray: true, SupportsCapture: true, SupportsClipboard: true,
			DisplayServer: "windows",
		}},
	}
	for _, test := range tests {
		if got := DetectCapabilities(test.displayEnv); got != test.want {
			t.Errorf("DetectCapabilities(%q) = %+v, want %+v", test.displayEnv, got, test.want)
		}
	}
}

func TestCurrentIdentity(t *testing.T) {
	identity, err := CurrentIdentity()
	if err != nil {
		t.Skipf("no user database entry: %v", err)
	}
	if identity.Username == "" {
		t.Errorf("empty username")
	}
	if runtime.GOOS == "windows" && identity.SID == "" {
		t.Errorf("no SID on windows")
	}
}
