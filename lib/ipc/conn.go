// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/deskbroker/lib/codec"
	"github.com/bureau-foundation/deskbroker/lib/secret"
)

var (
	// ErrBadMAC means an authenticated-phase frame had a missing or
	// wrong tag, or a pre-authentication frame carried one.
	ErrBadMAC = errors.New("ipc: message authentication failed")

	// ErrReplay means an authenticated frame did not advance the
	// sequence number.
	ErrReplay = errors.New("ipc: sequence number did not advance")

	// ErrUnauthenticated means a frame other than auth_request or
	// auth_response arrived before a session key was installed.
	ErrUnauthenticated = errors.New("ipc: message not allowed before authentication")

	// ErrFrameSize means a length prefix was zero or above MaxFrameSize.
	ErrFrameSize = errors.New("ipc: frame size out of range")
)

// Options tunes a Conn. The zero value sends everything uncompressed.
type Options struct {
	// Compression is CompressionZstd, CompressionLZ4, or
	// CompressionNone. Both ends can always decode either.
	Compression string

	// CompressThreshold is the smallest payload Send compresses.
	// Zero means DefaultCompressThreshold.
	CompressThreshold int
}

// Conn carries framed envelopes over a stream. Send and Receive may be
// called from different goroutines; concurrent Sends are serialized.
type Conn struct {
	raw       net.Conn
	role      Role
	options   Options
	closeOnce sync.Once

	writeMu sync.Mutex
	sendSeq uint64

	readMu  sync.Mutex
	recvSeq uint64

	keyMu    sync.RWMutex
	keys     *secret.Buffer
	released bool
}

// NewConn wraps raw. The connection starts unauthenticated.
func NewConn(raw net.Conn, role Role, options Options) *Conn {
	if options.CompressThreshold <= 0 {
		options.CompressThreshold = DefaultCompressThreshold
	}
	return &Conn{raw: raw, role: role, options: options}
}

// SetSessionKey installs the 32-byte session key. Every frame sent or
// received afterwards is authenticated. A key can be installed once.
// The caller's slice is not modified.
func (c *Conn) SetSessionKey(key []byte) error {
	if len(key) != SessionKeySize {
		return fmt.Errorf("ipc: session key is %d bytes, want %d", len(key), SessionKeySize)
	}
	keys, err := deriveKeys(key, c.role)
	if err != nil {
		return err
	}

	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.released {
		keys.Close()
		return net.ErrClosed
	}
	if c.keys != nil {
		keys.Close()
		return errors.New("ipc: session key already installed")
	}
	c.keys = keys
	return nil
}

// Authenticated reports whether a session key is installed.
func (c *Conn) Authenticated() bool {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return c.keys != nil
}

// Send writes one envelope. Seq, MAC and compression fields are filled
// in on a copy; the caller's envelope is not modified.
func (c *Conn) Send(envelope *Envelope) error {
	frame := *envelope
	frame.MAC = nil
	frame.Compressed = nil
	frame.Compression = CompressionNone
	frame.RawSize = 0

	if c.options.Compression != CompressionNone && len(frame.Payload) >= c.options.CompressThreshold {
		compressed, err := compressPayload(c.options.Compression, frame.Payload)
		switch {
		case err == nil:
			frame.RawSize = uint32(len(frame.Payload))
			frame.Compressed = compressed
			frame.Compression = c.options.Compression
			frame.Payload = nil
		case !errors.Is(err, errIncompressible):
			return err
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.sendSeq++
	frame.Seq = c.sendSeq

	body, err := codec.Marshal(&frame)
	if err != nil {
		return fmt.Errorf("ipc: encoding %s frame: %w", frame.Type, err)
	}

	c.keyMu.RLock()
	if c.released {
		c.keyMu.RUnlock()
		return net.ErrClosed
	}
	if c.keys != nil {
		frame.MAC = computeMAC(c.keys.Bytes()[:sha256.Size], body)
	}
	c.keyMu.RUnlock()

	if frame.MAC != nil {
		body, err = codec.Marshal(&frame)
		if err != nil {
			return fmt.Errorf("ipc: encoding %s frame: %w", frame.Type, err)
		}
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %s frame is %d bytes", ErrFrameSize, frame.Type, len(body))
	}

	buffer := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buffer, uint32(len(body)))
	copy(buffer[4:], body)
	if _, err := c.raw.Write(buffer); err != nil {
		return fmt.Errorf("ipc: writing %s frame: %w", frame.Type, err)
	}
	return nil
}

// SendMessage encodes payload (nil for none) and sends it under id.
func (c *Conn) SendMessage(id, messageType string, payload any) error {
	envelope := &Envelope{ID: id, Type: messageType}
	if payload != nil {
		encoded, err := codec.Marshal(payload)
		if err != nil {
			return fmt.Errorf("ipc: encoding %s payload: %w", messageType, err)
		}
		envelope.Payload = encoded
	}
	return c.Send(envelope)
}

// SendError sends a failure reply of messageType under id.
func (c *Conn) SendError(id, messageType, message string) error {
	return c.Send(&Envelope{ID: id, Type: messageType, Error: message})
}

// Receive reads and verifies the next envelope. Any error other than
// a deadline expiry leaves the stream unusable and the caller should
// close the Conn.
func (c *Conn) Receive() (*Envelope, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	var header [4]byte
	if _, err := io.ReadFull(c.raw, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameSize, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(c.raw, body); err != nil {
		return nil, err
	}

	var envelope Envelope
	if err := codec.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("ipc: malformed frame: %w", err)
	}

	if err := c.verify(&envelope); err != nil {
		return nil, err
	}
	c.recvSeq = envelope.Seq

	if envelope.Compression != CompressionNone {
		if len(envelope.Payload) != 0 {
			return nil, fmt.Errorf("ipc: %s frame carries both payload and compressed payload", envelope.Type)
		}
		payload, err := decompressPayload(envelope.Compression, envelope.Compressed, envelope.RawSize)
		if err != nil {
			return nil, err
		}
		envelope.Payload = payload
		envelope.Compressed = nil
		envelope.Compression = CompressionNone
		envelope.RawSize = 0
	}
	return &envelope, nil
}

// verify checks the MAC and sequence number of an inbound frame and
// clears envelope.MAC. Caller holds c.readMu.
func (c *Conn) verify(envelope *Envelope) error {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()

	if c.released {
		return net.ErrClosed
	}
	if c.keys == nil {
		if len(envelope.MAC) != 0 {
			return ErrBadMAC
		}
		if envelope.Type != TypeAuthRequest && envelope.Type != TypeAuthResponse {
			return fmt.Errorf("%w: %q", ErrUnauthenticated, envelope.Type)
		}
		return nil
	}

	received := envelope.MAC
	if len(received) == 0 {
		return ErrBadMAC
	}
	envelope.MAC = nil
	canonical, err := codec.Marshal(envelope)
	if err != nil {
		return ErrBadMAC
	}
	expected := computeMAC(c.keys.Bytes()[sha256.Size:], canonical)
	if !hmac.Equal(received, expected) {
		return ErrBadMAC
	}
	if envelope.Seq <= c.recvSeq {
		return ErrReplay
	}
	return nil
}

// SetDeadline sets read and write deadlines on the underlying stream.
func (c *Conn) SetDeadline(t time.Time) error { return c.raw.SetDeadline(t) }

// SetReadDeadline sets the read deadline on the underlying stream.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.raw.SetReadDeadline(t) }

// SetWriteDeadline sets the write deadline on the underlying stream.
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.raw.SetWriteDeadline(t) }

// Close closes the stream and zeroes the key material. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.raw.Close()

		c.keyMu.Lock()
		defer c.keyMu.Unlock()
		c.released = true
		if c.keys != nil {
			c.keys.Close()
			c.keys = nil
		}
	})
	return err
}
