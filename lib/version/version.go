// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/bureau-foundation/deskbroker/lib/binhash"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

// Info returns a formatted version string suitable for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns Info, the Go version and platform, and the BLAKE3
// digest of the running executable. The broker requires helpers to
// report the same digest, so a mismatch here explains rejected
// helpers after a partial upgrade.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s\n  Executable: %s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH, SelfDigest())
}

// SelfDigest returns the hex digest of the running executable, or
// "unavailable" when it cannot be read.
func SelfDigest() string {
	_, digest, err := binhash.Self()
	if err != nil {
		return "unavailable"
	}
	return binhash.FormatDigest(digest)
}

// LogAttrs returns build facts for a startup log line.
func LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("version", Version),
		slog.String("commit", GitCommit),
		slog.Bool("dirty", GitDirty == "true"),
		slog.String("build_time", BuildTime),
	}
}
