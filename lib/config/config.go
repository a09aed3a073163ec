// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/deskbroker/lib/ipc"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "BUREAU_DESKBROKER_CONFIG"

// MaxScriptOutputBytes bounds helper.script_max_output_bytes. Stdout
// and stderr are each capped at this size, so a script result stays
// well inside one frame.
const MaxScriptOutputBytes = ipc.MaxFrameSize / 4

// DefaultSocketGroup owns the broker socket on Unix. Users allowed to
// run a helper are members of it.
const DefaultSocketGroup = "bureau"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for managed fleet machines. Hash pinning cannot be
	// disabled in production.
	Production Environment = "production"
)

// Duration is a time.ParseDuration string. Validate rejects strings
// that do not parse or are not positive.
type Duration string

// Value returns the parsed duration, or zero if d does not parse.
func (d Duration) Value() time.Duration {
	value, err := time.ParseDuration(string(d))
	if err != nil {
		return 0
	}
	return value
}

// Config is the deskbroker configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Socket   SocketConfig   `yaml:"socket"`
	Broker   BrokerConfig   `yaml:"broker"`
	Helper   HelperConfig   `yaml:"helper"`
	Detector DetectorConfig `yaml:"detector"`
	Log      LogConfig      `yaml:"log"`
}

// SocketConfig describes the broker endpoint.
type SocketConfig struct {
	// Address is the socket path or pipe name. Empty means the
	// platform default.
	Address string `yaml:"address"`

	// Mode is the octal socket file mode on Unix. Production rejects
	// modes that grant anything to other users.
	Mode string `yaml:"mode"`

	// Group owns the socket file and a newly created socket directory
	// on Unix. Required in production.
	Group string `yaml:"group"`

	// SecurityDescriptor is the SDDL for the Windows pipe. Empty means
	// SYSTEM full control plus interactive users read and write.
	SecurityDescriptor string `yaml:"security_descriptor"`
}

// BrokerConfig tunes the daemon's broker.
type BrokerConfig struct {
	// AgentID is handed to helpers in the auth_response.
	AgentID string `yaml:"agent_id"`

	// Scopes granted to every helper. "*" grants everything.
	Scopes []string `yaml:"scopes"`

	HandshakeTimeout  Duration `yaml:"handshake_timeout"`
	IdleTimeout       Duration `yaml:"idle_timeout"`
	IdleCheckInterval Duration `yaml:"idle_check_interval"`
	CommandTimeout    Duration `yaml:"command_timeout"`

	MaxSessionsPerIdentity int      `yaml:"max_sessions_per_identity"`
	RateLimitAttempts      int      `yaml:"rate_limit_attempts"`
	RateLimitWindow        Duration `yaml:"rate_limit_window"`

	// DisableHashPinning skips the helper executable digest check.
	// Rejected in production.
	DisableHashPinning bool `yaml:"disable_hash_pinning"`

	// Compression is "none", "zstd" or "lz4".
	Compression string `yaml:"compression"`

	// CompressThreshold is the smallest payload, in bytes, that is
	// compressed.
	CompressThreshold int `yaml:"compress_threshold"`
}

// HelperConfig tunes the user helper.
type HelperConfig struct {
	KeepaliveInterval   Duration `yaml:"keepalive_interval"`
	MaxMissedKeepalives int      `yaml:"max_missed_keepalives"`
	SASTimeout          Duration `yaml:"sas_timeout"`

	// ReconnectDelay is the first wait after losing the broker; it
	// doubles up to MaxReconnectDelay.
	ReconnectDelay    Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay Duration `yaml:"max_reconnect_delay"`

	// ScriptMaxOutputBytes caps captured stdout and stderr each.
	ScriptMaxOutputBytes int `yaml:"script_max_output_bytes"`
}

// DetectorConfig tunes login session detection in the daemon.
type DetectorConfig struct {
	PollInterval Duration `yaml:"poll_interval"`

	// SpawnHelpers starts a helper in every new graphical session.
	// Only effective on Windows.
	SpawnHelpers bool `yaml:"spawn_helpers"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is auto, json, or text. Auto writes text to a terminal
	// and JSON otherwise.
	Format string `yaml:"format"`
}

// Default returns a Config with every field set.
func Default() *Config {
	return &Config{
		Environment: Production,
		Socket: SocketConfig{
			Mode:  "0660",
			Group: DefaultSocketGroup,
		},
		Broker: BrokerConfig{
			Scopes:                 []string{"notify", "tray", "clipboard", "desktop", "run_as_user"},
			HandshakeTimeout:       "5s",
			IdleTimeout:            "30m",
			IdleCheckInterval:      "60s",
			CommandTimeout:         "30s",
			MaxSessionsPerIdentity: 3,
			RateLimitAttempts:      5,
			RateLimitWindow:        "60s",
			Compression:            "zstd",
			CompressThreshold:      64 << 10,
		},
		Helper: HelperConfig{
			KeepaliveInterval:    "5s",
			MaxMissedKeepalives:  3,
			SASTimeout:           "8s",
			ReconnectDelay:       "1s",
			MaxReconnectDelay:    "30s",
			ScriptMaxOutputBytes: 1 << 20,
		},
		Detector: DetectorConfig{
			PollInterval: "5s",
			SpawnHelpers: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads the file named by BUREAU_DESKBROKER_CONFIG, or returns
// Default when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads path over the defaults, expands variables in path
// fields, and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	c.Socket.Address = expandVars(c.Socket.Address)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// SocketMode parses Socket.Mode. Empty yields zero.
func (c *Config) SocketMode() (os.FileMode, error) {
	if c.Socket.Mode == "" {
		return 0, nil
	}
	mode, err := strconv.ParseUint(c.Socket.Mode, 8, 32)
	if err != nil || mode > 0o777 {
		return 0, fmt.Errorf("socket.mode %q is not an octal permission mode", c.Socket.Mode)
	}
	return os.FileMode(mode), nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if mode, err := c.SocketMode(); err != nil {
		errs = append(errs, err)
	} else if c.Environment == Production && runtime.GOOS != "windows" {
		if mode&0o007 != 0 {
			errs = append(errs, fmt.Errorf("socket.mode %s grants access to other users, not allowed in production", c.Socket.Mode))
		}
		if c.Socket.Group == "" {
			errs = append(errs, errors.New("socket.group is required in production"))
		}
	}

	durations := []struct {
		name  string
		value Duration
	}{
		{"broker.handshake_timeout", c.Broker.HandshakeTimeout},
		{"broker.idle_timeout", c.Broker.IdleTimeout},
		{"broker.idle_check_interval", c.Broker.IdleCheckInterval},
		{"broker.command_timeout", c.Broker.CommandTimeout},
		{"broker.rate_limit_window", c.Broker.RateLimitWindow},
		{"helper.keepalive_interval", c.Helper.KeepaliveInterval},
		{"helper.sas_timeout", c.Helper.SASTimeout},
		{"helper.reconnect_delay", c.Helper.ReconnectDelay},
		{"helper.max_reconnect_delay", c.Helper.MaxReconnectDelay},
		{"detector.poll_interval", c.Detector.PollInterval},
	}
	for _, field := range durations {
		value, err := time.ParseDuration(string(field.value))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
			continue
		}
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", field.name, field.value))
		}
	}
	if c.Helper.ReconnectDelay.Value() > c.Helper.MaxReconnectDelay.Value() {
		errs = append(errs, fmt.Errorf("helper.reconnect_delay exceeds helper.max_reconnect_delay"))
	}

	counts := []struct {
		name  string
		value int
	}{
		{"broker.max_sessions_per_identity", c.Broker.MaxSessionsPerIdentity},
		{"broker.rate_limit_attempts", c.Broker.RateLimitAttempts},
		{"broker.compress_threshold", c.Broker.CompressThreshold},
		{"helper.max_missed_keepalives", c.Helper.MaxMissedKeepalives},
		{"helper.script_max_output_bytes", c.Helper.ScriptMaxOutputBytes},
	}
	for _, field := range counts {
		if field.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", field.name, field.value))
		}
	}

	if c.Helper.ScriptMaxOutputBytes > MaxScriptOutputBytes {
		errs = append(errs, fmt.Errorf("helper.script_max_output_bytes must be at most %d, got %d", MaxScriptOutputBytes, c.Helper.ScriptMaxOutputBytes))
	}

	knownScopes := []string{"notify", "tray", "clipboard", "desktop", "run_as_user", "*"}
	for _, scope := range c.Broker.Scopes {
		if !slices.Contains(knownScopes, scope) {
			errs = append(errs, fmt.Errorf("broker.scopes: unknown scope %q", scope))
		}
	}

	compressions := []string{"none", "zstd", "lz4"}
	if !slices.Contains(compressions, c.Broker.Compression) {
		errs = append(errs, fmt.Errorf("broker.compression must be one of: %v", compressions))
	}

	if c.Environment == Production && c.Broker.DisableHashPinning {
		errs = append(errs, errors.New("broker.disable_hash_pinning is not allowed in production"))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levels))
	}
	formats := []string{"auto", "json", "text"}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
