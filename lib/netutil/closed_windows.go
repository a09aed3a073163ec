// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

func isPlatformCloseError(err error) bool {
	return errors.Is(err, winio.ErrFileClosed) ||
		errors.Is(err, winio.ErrPipeListenerClosed) ||
		errors.Is(err, windows.ERROR_BROKEN_PIPE) ||
		errors.Is(err, windows.ERROR_NO_DATA) ||
		errors.Is(err, windows.ERROR_PIPE_NOT_CONNECTED)
}
