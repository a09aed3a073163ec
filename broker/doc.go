// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker is the privileged end of the desktop broker socket.
//
// A root or SYSTEM service cannot show a notification, read the
// clipboard, or run a script inside an interactive user's desktop. A
// user helper running in that desktop can. The Broker accepts
// connections from helpers, proves who they are, and hands back a
// Session the service uses to send work into the desktop.
//
// A connection becomes a Session only after the handshake:
//
//  1. The kernel reports the peer's identity and executable
//     (transport.PeerCredentials). Nothing the peer says about itself
//     is trusted until it matches this.
//  2. Per-identity rate limiting and a cap on live sessions.
//  3. The peer's executable must be the broker's own binary, checked
//     by resolved path before any byte is read and by BLAKE3 digest
//     once the auth_request arrives.
//  4. The broker generates a session key, returns it in the
//     auth_response, and from then on every frame in both directions
//     carries an HMAC with a strictly increasing sequence number.
//
// Sessions idle longer than Config.IdleTimeout are reaped whether or
// not the transport is still up.
//
// All timing except kernel socket deadlines runs on a clock.Clock so
// tests drive the reaper, the rate limiter and command timeouts with
// clock.Fake.
package broker
