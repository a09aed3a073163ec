// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// productionOnlyUnix returns want on platforms where production enforces
// socket file permissions, and "" on Windows where the security
// descriptor governs access instead.
func productionOnlyUnix(want string) string {
	if runtime.GOOS == "windows" {
		return ""
	}
	return want
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if cfg.Environment != Production {
		t.Errorf("expected environment=production, got %s", cfg.Environment)
	}
	if got := cfg.Broker.IdleTimeout.Value(); got != 30*time.Minute {
		t.Errorf("expected idle_timeout=30m, got %v", got)
	}
	if got := cfg.Helper.KeepaliveInterval.Value(); got != 5*time.Second {
		t.Errorf("expected keepalive_interval=5s, got %v", got)
	}
	if cfg.Broker.DisableHashPinning {
		t.Error("hash pinning disabled by default")
	}
	mode, err := cfg.SocketMode()
	if err != nil || mode != 0o660 {
		t.Errorf("SocketMode() = %v, %v; want 0660", mode, err)
	}
	if cfg.Socket.Group != DefaultSocketGroup {
		t.Errorf("expected socket group %q, got %q", DefaultSocketGroup, cfg.Socket.Group)
	}
	want := []string{"notify", "tray", "clipboard", "desktop", "run_as_user"}
	if !slices.Equal(cfg.Broker.Scopes, want) {
		t.Errorf("expected scopes=%v, got %v", want, cfg.Broker.Scopes)
	}
}

func TestLoad_WithoutVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Broker.RateLimitAttempts != Default().Broker.RateLimitAttempts {
		t.Errorf("Load() without a file did not return defaults: %+v", cfg.Broker)
	}
}

func TestLoad_WithVariable(t *testing.T) {
	path := writeConfig(t, "deskbroker.yaml", `
environment: development
broker:
  agent_id: agent-7
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Broker.AgentID != "agent-7" {
		t.Errorf("expected agent_id=agent-7, got %s", cfg.Broker.AgentID)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, "deskbroker.yaml", `
environment: development

socket:
  address: /tmp/deskbroker-test.sock
  mode: "0660"
  group: bureau

broker:
  scopes: [notify, tray]
  idle_timeout: 10m
  rate_limit_attempts: 2
  disable_hash_pinning: true
  compression: lz4

helper:
  sas_timeout: 3s

log:
  level: debug
  format: json
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Socket.Address != "/tmp/deskbroker-test.sock" {
		t.Errorf("expected address=/tmp/deskbroker-test.sock, got %s", cfg.Socket.Address)
	}
	mode, err := cfg.SocketMode()
	if err != nil || mode != 0o660 {
		t.Errorf("SocketMode() = %v, %v; want 0660", mode, err)
	}
	if !slices.Equal(cfg.Broker.Scopes, []string{"notify", "tray"}) {
		t.Errorf("expected scopes=[notify tray], got %v", cfg.Broker.Scopes)
	}
	if got := cfg.Broker.IdleTimeout.Value(); got != 10*time.Minute {
		t.Errorf("expected idle_timeout=10m, got %v", got)
	}
	if cfg.Broker.RateLimitAttempts != 2 {
		t.Errorf("expected rate_limit_attempts=2, got %d", cfg.Broker.RateLimitAttempts)
	}
	if cfg.Broker.Compression != "lz4" {
		t.Errorf("expected compression=lz4, got %s", cfg.Broker.Compression)
	}
	if got := cfg.Helper.SASTimeout.Value(); got != 3*time.Second {
		t.Errorf("expected sas_timeout=3s, got %v", got)
	}
	// Fields absent from the file keep their defaults.
	if got := cfg.Broker.HandshakeTimeout.Value(); got != 5*time.Second {
		t.Errorf("expected handshake_timeout default 5s, got %v", got)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("expected log debug/json, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := writeConfig(t, "deskbroker.jsonc", `{
	// Comments and trailing commas are allowed.
	"broker": {
		"agent_id": "agent-9",
		"max_sessions_per_identity": 1,
	},
	"detector": {"poll_interval": "2s", "spawn_helpers": false},
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Broker.AgentID != "agent-9" || cfg.Broker.MaxSessionsPerIdentity != 1 {
		t.Errorf("broker section = %+v", cfg.Broker)
	}
	if cfg.Detector.PollInterval.Value() != 2*time.Second || cfg.Detector.SpawnHelpers {
		t.Errorf("detector section = %+v", cfg.Detector)
	}
}

func TestLoadFile_ExpandsSocketAddress(t *testing.T) {
	t.Setenv("DESKBROKER_TEST_RUNTIME", "/run/user/1000")
	path := writeConfig(t, "deskbroker.yaml", `
socket:
  address: ${DESKBROKER_TEST_RUNTIME}/deskbroker.sock
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Socket.Address != "/run/user/1000/deskbroker.sock" {
		t.Errorf("expected expanded address, got %s", cfg.Socket.Address)
	}

	if got := expandVars("${DESKBROKER_TEST_UNSET:-/fallback}/x"); got != "/fallback/x" {
		t.Errorf("expandVars default = %s, want /fallback/x", got)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Errorf("missing file: expected not-exist error, got %v", err)
	}

	path := writeConfig(t, "deskbroker.yaml", "broker: [not, a, mapping]\n")
	if _, err := LoadFile(path); err == nil {
		t.Error("malformed file loaded without error")
	}

	path = writeConfig(t, "deskbroker.yaml", "broker:\n  idle_timeout: soon\n")
	if _, err := LoadFile(path); err == nil || !strings.Contains(err.Error(), "broker.idle_timeout") {
		t.Errorf("invalid duration: expected broker.idle_timeout error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			modify: func(*Config) {},
		},
		{
			name:    "unknown environment",
			modify:  func(c *Config) { c.Environment = "staging" },
			wantErr: "invalid environment",
		},
		{
			name:    "bad socket mode",
			modify:  func(c *Config) { c.Socket.Mode = "rw-rw----" },
			wantErr: "socket.mode",
		},
		{
			name:    "socket mode out of range",
			modify:  func(c *Config) { c.Socket.Mode = "1777" },
			wantErr: "socket.mode",
		},
		{
			name:    "negative duration",
			modify:  func(c *Config) { c.Broker.RateLimitWindow = "-1s" },
			wantErr: "broker.rate_limit_window must be positive",
		},
		{
			name:    "empty duration",
			modify:  func(c *Config) { c.Helper.KeepaliveInterval = "" },
			wantErr: "helper.keepalive_interval",
		},
		{
			name: "reconnect delays inverted",
			modify: func(c *Config) {
				c.Helper.ReconnectDelay = "1m"
				c.Helper.MaxReconnectDelay = "10s"
			},
			wantErr: "exceeds helper.max_reconnect_delay",
		},
		{
			name:    "zero session cap",
			modify:  func(c *Config) { c.Broker.MaxSessionsPerIdentity = 0 },
			wantErr: "broker.max_sessions_per_identity",
		},
		{
			name:    "unknown scope",
			modify:  func(c *Config) { c.Broker.Scopes = []string{"notify", "root"} },
			wantErr: `unknown scope "root"`,
		},
		{
			name:    "unknown compression",
			modify:  func(c *Config) { c.Broker.Compression = "gzip" },
			wantErr: "broker.compression",
		},
		{
			name:    "pinning disabled in production",
			modify:  func(c *Config) { c.Broker.DisableHashPinning = true },
			wantErr: "not allowed in production",
		},
		{
			name: "pinning disabled in development",
			modify: func(c *Config) {
				c.Environment = Development
				c.Broker.DisableHashPinning = true
			},
		},
		{
			name:    "script output above frame budget",
			modify:  func(c *Config) { c.Helper.ScriptMaxOutputBytes = MaxScriptOutputBytes + 1 },
			wantErr: "helper.script_max_output_bytes must be at most",
		},
		{
			name:   "script output at frame budget",
			modify: func(c *Config) { c.Helper.ScriptMaxOutputBytes = MaxScriptOutputBytes },
		},
		{
			name:    "world-accessible socket in production",
			modify:  func(c *Config) { c.Socket.Mode = "0666" },
			wantErr: productionOnlyUnix("grants access to other users"),
		},
		{
			name:    "socket without group in production",
			modify:  func(c *Config) { c.Socket.Group = "" },
			wantErr: productionOnlyUnix("socket.group is required"),
		},
		{
			name: "open socket in development",
			modify: func(c *Config) {
				c.Environment = Development
				c.Socket.Mode = "0666"
				c.Socket.Group = ""
			},
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "trace" },
			wantErr: "log.level",
		},
		{
			name:    "bad log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, test.wantErr)
			}
		})
	}
}
