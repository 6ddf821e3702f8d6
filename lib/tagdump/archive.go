// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tagdump bundles raw tag payloads into a compressed archive
// for offline analysis and decodes archives in parallel.
//
// An archive is a 36-byte header followed by a body:
//
//	0   magic "STDP"
//	4   format version (1)
//	5   compression
//	6   reserved, zero (2 bytes)
//	8   item count (u32 LE)
//	12  body size before compression (u32 LE)
//	16  stored body size (u32 LE)
//	20  first 16 bytes of the BLAKE3 digest of the uncompressed body
//	36  body
//
// The uncompressed body is the items back to back, each encoded as a
// u16 LE label length and label, a u8 UID length and UID, then a u32
// LE payload length and payload.
package tagdump

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/zeebo/blake3"
)

// Magic opens every archive.
var Magic = [4]byte{'S', 'T', 'D', 'P'}

// FormatVersion is the archive layout version this package writes.
const FormatVersion = 1

// HeaderSize is the fixed header length.
const HeaderSize = 36

// MaxBodySize bounds the uncompressed body Read will accept.
const MaxBodySize = 64 << 20

const digestSize = 16

// ErrCorrupt is wrapped by every Read error caused by archive content.
var ErrCorrupt = errors.New("tagdump: corrupt archive")

// Item is one captured payload.
type Item struct {
	// Label names the capture, typically its source file.
	Label string
	// UID is the tag UID, if known.
	UID  []byte
	Data []byte
}

// Header is the parsed archive header.
type Header struct {
	Version     uint8
	Compression Compression
	Count       int
	Size        int
	StoredSize  int
	Digest      [digestSize]byte
}

// Write encodes items as an archive. When the requested compression
// would not shrink the body, the body is stored uncompressed and the
// header says so. It returns the compression actually used.
func Write(w io.Writer, items []Item, compression Compression) (Compression, error) {
	body, err := encodeBody(items)
	if err != nil {
		return 0, err
	}
	stored, err := compress(body, compression)
	if errors.Is(err, errIncompressible) {
		stored, compression = body, CompressionNone
	} else if err != nil {
		return 0, err
	}

	header := make([]byte, HeaderSize)
	copy(header, Magic[:])
	header[4] = FormatVersion
	header[5] = byte(compression)
	binary.LittleEndian.PutUint32(header[8:], uint32(len(items)))
	binary.LittleEndian.PutUint32(header[12:], uint32(len(body)))
	binary.LittleEndian.PutUint32(header[16:], uint32(len(stored)))
	digest := blake3.Sum256(body)
	copy(header[20:], digest[:digestSize])

	if _, err := w.Write(header); err != nil {
		return 0, fmt.Errorf("tagdump: writing header: %w", err)
	}
	if _, err := w.Write(stored); err != nil {
		return 0, fmt.Errorf("tagdump: writing body: %w", err)
	}
	return compression, nil
}

func encodeBody(items []Item) ([]byte, error) {
	var body bytes.Buffer
	for index, item := range items {
		switch {
		case len(item.Label) > math.MaxUint16:
			return nil, fmt.Errorf("tagdump: item %d label is %d bytes", index, len(item.Label))
		case len(item.UID) > math.MaxUint8:
			return nil, fmt.Errorf("tagdump: item %d UID is %d bytes", index, len(item.UID))
		case len(item.Data) > MaxBodySize:
			return nil, fmt.Errorf("tagdump: item %d payload is %d bytes", index, len(item.Data))
		}
		body.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(item.Label))))
		body.WriteString(item.Label)
		body.WriteByte(byte(len(item.UID)))
		body.Write(item.UID)
		body.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(item.Data))))
		body.Write(item.Data)
	}
	if body.Len() > MaxBodySize {
		return nil, fmt.Errorf("tagdump: archive body is %d bytes, limit %d", body.Len(), MaxBodySize)
	}
	return body.Bytes(), nil
}

// ReadHeader parses and checks an archive header.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(data))
	}
	if !bytes.Equal(data[:4], Magic[:]) {
		return Header{}, fmt.Errorf("%w: bad magic % x", ErrCorrupt, data[:4])
	}
	header := Header{
		Version:     data[4],
		Compression: Compression(data[5]),
		Count:       int(binary.LittleEndian.Uint32(data[8:])),
		Size:        int(binary.LittleEndian.Uint32(data[12:])),
		StoredSize:  int(binary.LittleEndian.Uint32(data[16:])),
	}
	copy(header.Digest[:], data[20:HeaderSize])
	if header.Version != FormatVersion {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header.Version)
	}
	if header.Size > MaxBodySize {
		return Header{}, fmt.Errorf("%w: body size %d exceeds limit %d", ErrCorrupt, header.Size, MaxBodySize)
	}
	return header, nil
}

// Read decodes an archive.
func Read(r io.Reader) (Header, []Item, error) {
	data, err := io.ReadAll(io.LimitReader(r, HeaderSize+MaxBodySize+1))
	if err != nil {
		return Header{}, nil, fmt.Errorf("tagdump: reading archive: %w", err)
	}
	header, err := ReadHeader(data)
	if err != nil {
		return Header{}, nil, err
	}
	stored := data[HeaderSize:]
	if len(stored) != header.StoredSize {
		return header, nil, fmt.Errorf("%w: body is %d bytes, header says %d", ErrCorrupt, len(stored), header.StoredSize)
	}
	body, err := decompress(stored, header.Compression, header.Size)
	if err != nil {
		return header, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	digest := blake3.Sum256(body)
	if !bytes.Equal(digest[:digestSize], header.Digest[:]) {
		return header, nil, fmt.Errorf("%w: body digest mismatch", ErrCorrupt)
	}
	items, err := decodeBody(body, header.Count)
	if err != nil {
		return header, nil, err
	}
	return header, items, nil
}

func decodeBody(body []byte, count int) ([]Item, error) {
	// Every item takes at least 7 bytes, which bounds a hostile count.
	if count > len(body)/7 {
		return nil, fmt.Errorf("%w: %d items cannot fit in %d bytes", ErrCorrupt, count, len(body))
	}
	items := make([]Item, 0, count)
	reader := bodyReader{data: body}
	for index := range count {
		label := reader.next(int(binary.LittleEndian.Uint16(reader.next(2))))
		uid := reader.next(int(reader.next(1)[0]))
		data := reader.next(int(binary.LittleEndian.Uint32(reader.next(4))))
		if reader.short {
			return nil, fmt.Errorf("%w: item %d runs past the end of the body", ErrCorrupt, index)
		}
		item := Item{Label: string(label), Data: bytes.Clone(data)}
		if len(uid) > 0 {
			item.UID = bytes.Clone(uid)
		}
		items = append(items, item)
	}
	if reader.offset != len(body) {
		return nil, fmt.Errorf("%w: %d bytes after the last item", ErrCorrupt, len(body)-reader.offset)
	}
	return items, nil
}

// bodyReader hands out consecutive slices. Once a read runs past the
// end, short is set and every later read returns zeroed scratch of the
// requested width so length prefixes decode as zero.
type bodyReader struct {
	data   []byte
	offset int
	short  bool
}

func (r *bodyReader) next(n int) []byte {
	if r.short || n > len(r.data)-r.offset {
		r.short = true
		return make([]byte, min(n, 4))
	}
	slice := r.data[r.offset : r.offset+n]
	r.offset += n
	return slice
}
