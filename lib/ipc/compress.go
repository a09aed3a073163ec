// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DefaultCompressThreshold is the payload size from which Send tries
// to compress. Screenshots, clipboard images and long script output
// cross it; control messages never do.
const DefaultCompressThreshold = 64 << 10

var errIncompressible = errors.New("ipc: payload did not shrink")

// zstd.Encoder.EncodeAll and zstd.Decoder.DecodeAll are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("ipc: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize))
	if err != nil {
		panic("ipc: zstd decoder initialization failed: " + err.Error())
	}
}

// ParseCompression validates a configured compression name.
func ParseCompression(name string) (string, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case CompressionZstd, CompressionLZ4:
		return name, nil
	}
	return "", fmt.Errorf("ipc: unknown compression %q (want none, zstd, or lz4)", name)
}

func compressPayload(tag string, data []byte) ([]byte, error) {
	switch tag {
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("ipc: lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	}
	return nil, fmt.Errorf("ipc: unknown compression %q", tag)
}

func decompressPayload(tag string, compressed []byte, rawSize uint32) ([]byte, error) {
	if rawSize == 0 || rawSize > MaxFrameSize {
		return nil, fmt.Errorf("ipc: compressed payload claims %d bytes", rawSize)
	}
	switch tag {
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("ipc: zstd decompress: %w", err)
		}
		if len(result) != int(rawSize) {
			return nil, fmt.Errorf("ipc: zstd decompress: got %d bytes, expected %d", len(result), rawSize)
		}
		return result, nil
	case CompressionLZ4:
		destination := make([]byte, rawSize)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("ipc: lz4 decompress: %w", err)
		}
		if read != int(rawSize) {
			return nil, fmt.Errorf("ipc: lz4 decompress: got %d bytes, expected %d", read, rawSize)
		}
		return destination, nil
	}
	return nil, fmt.Errorf("ipc: unknown compression %q", tag)
}
