// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the one CBOR configuration shared by the broker
// and the user helper.
//
// Every frame on the broker socket is CBOR. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2), so the same envelope always
// encodes to the same bytes. The wire protocol depends on this: the
// HMAC over a frame is computed on its re-encoded form, and both peers
// must arrive at identical bytes independently.
//
//	data, err := codec.Marshal(envelope)
//	err = codec.Unmarshal(data, &envelope)
//
// The decoder treats input as hostile. Duplicate map keys are
// rejected and nesting depth and container sizes are bounded.
//
// # Struct Tag Rules
//
//   - `cbor` tag: the type only ever travels on the broker socket
//     (envelopes, handshake and command payloads).
//   - `json` tag: the type is also printed as JSON, for example
//     session snapshots shown by `bureau-deskbroker sessions --json`.
//     fxamacker/cbor falls back to `json` tags when `cbor` tags are
//     absent, so one tag names the field in both formats.
//
// Never put both tags on one field.
package codec
