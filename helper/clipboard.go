// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import "errors"

// ErrImageClipboard is returned by native clipboards asked to write an
// image; they carry text only.
var ErrImageClipboard = errors.New("helper: image clipboard content not supported")
