// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by broker, helper and
// transport tests: short socket directories, channel receive with a
// hang guard, and stand-in executables for identity checks.
package testutil
