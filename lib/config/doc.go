// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the deskbroker configuration file.
//
// Configuration comes from a single file named by a --config flag (via
// [LoadFile]) or the BUREAU_DESKBROKER_CONFIG environment variable (via
// [Load]). There is no search path and no per-field environment
// override. When neither names a file, [Load] returns [Default], so a
// freshly installed service starts with documented values.
//
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas; anything else is YAML. Durations are Go duration
// strings ("30s", "5m"). Path fields expand ${VAR} and ${VAR:-default}.
//
// Key exports:
//
//   - [Config] -- sections Socket, Broker, Helper, Detector, Log
//   - [Default] -- every field filled
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- rejects values the daemon cannot use
//
// This package depends on no other Bureau packages.
package config
