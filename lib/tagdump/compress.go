// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagdump

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how an archive body is stored. Values are
// written into archive headers and must not change.
type Compression uint8

const (
	// CompressionNone stores the body as is.
	CompressionNone Compression = 0

	// CompressionLZ4 stores the body as one LZ4 block.
	CompressionLZ4 Compression = 1

	// CompressionZstd stores the body as one zstd frame at the
	// default level. Tag images are mostly NUL padding and repeated
	// headers, so zstd usually wins by a wide margin.
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses the String form of a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4, or zstd)", name)
	}
}

// errIncompressible reports that compressing would not shrink the
// body. The writer falls back to CompressionNone.
var errIncompressible = errors.New("tagdump: body is incompressible")

// zstd.Encoder and zstd.Decoder are safe for concurrent use with
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("tagdump: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("tagdump: zstd decoder initialization failed: " + err.Error())
	}
}

func compress(body []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return body, nil
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(body)))
		written, err := lz4.CompressBlock(body, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if written == 0 || written >= len(body) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(body, nil)
		if len(compressed) >= len(body) {
			return nil, errIncompressible
		}
		return compressed, nil
	}
	return nil, fmt.Errorf("unsupported compression %s", compression)
}

func decompress(stored []byte, compression Compression, size int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(stored) != size {
			return nil, fmt.Errorf("stored body is %d bytes, header says %d", len(stored), size)
		}
		return stored, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		body, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(body) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(body), size)
		}
		return body, nil
	}
	return nil, fmt.Errorf("unsupported compression %s", compression)
}
