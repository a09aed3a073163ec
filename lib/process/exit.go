// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrUsage marks command-line mistakes. Errors wrapping it exit with
// code 2 instead of 1.
var ErrUsage = errors.New("usage")

// Usagef returns an error wrapping ErrUsage.
func Usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

// ExitCode maps an error from run() to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrUsage):
		return 2
	default:
		return 1
	}
}

// Report writes "error: err" to w and returns the exit code for err.
// Nothing is written for a nil error.
func Report(w io.Writer, err error) int {
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return ExitCode(err)
}

// Fatal reports err on stderr and exits. Use it in main() for errors
// from run() where the structured logger may not be initialized.
func Fatal(err error) {
	os.Exit(Report(os.Stderr, err))
}
