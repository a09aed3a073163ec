// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "errors"

var (
	// ErrCommandTimeout is returned by SendCommand when the helper does
	// not answer in time. The Session stays open.
	ErrCommandTimeout = errors.New("broker: command timed out waiting for user helper")

	// ErrSessionClosed is returned to requests in flight when their
	// Session is torn down, and to new requests on a closed Session.
	ErrSessionClosed = errors.New("broker: session closed")

	// ErrNoHelperForUser means no helper is connected for the target.
	ErrNoHelperForUser = errors.New("broker: no user helper connected for user")

	// ErrScopeDenied means the Session was not granted the scope the
	// message type requires.
	ErrScopeDenied = errors.New("broker: scope not granted to session")

	// ErrHelperFailed wraps the error string of a response envelope.
	ErrHelperFailed = errors.New("broker: user helper reported an error")

	// ErrClosed is returned by Listen once the Broker is closed.
	ErrClosed = errors.New("broker: closed")
)
