// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tagsum computes and checks the integrity checksum of a tag
// image: a CRC-32 (IEEE polynomial) over every byte that precedes the
// checksum field, stored little-endian in the checksum field itself.
//
// The checksum is computed over the unmasked image, so checking it
// needs the masking key and a wrong key shows up as a mismatch.
package tagsum

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/bureau-foundation/spooltag/lib/taglayout"
)

var field = taglayout.MustOffset(taglayout.Checksum)

// Compute returns the CRC-32 of the covered region of image. An image
// shorter than the covered region is checksummed over the bytes it
// has; Compute never fails.
func Compute(image []byte) uint32 {
	covered := min(len(image), field.Start)
	return crc32.ChecksumIEEE(image[:covered])
}

// Verify reports whether expected matches the checksum of image.
func Verify(image []byte, expected uint32) bool {
	return Compute(image) == expected
}

// Stored returns the checksum recorded in image. ok is false when the
// image is too short to contain the checksum field.
func Stored(image []byte) (value uint32, ok bool) {
	if len(image) < field.End() {
		return 0, false
	}
	return binary.LittleEndian.Uint32(image[field.Start:field.End()]), true
}

// Seal computes the checksum of image and writes it into the checksum
// field. The image must be at least taglayout.Size bytes.
func Seal(image []byte) error {
	if len(image) < field.End() {
		return &taglayout.LayoutError{
			Section: taglayout.Checksum,
			Span:    field,
			Size:    len(image),
			Reason:  "image too short to seal",
		}
	}
	binary.LittleEndian.PutUint32(image[field.Start:field.End()], Compute(image))
	return nil
}

// Result is the outcome of comparing a stored checksum with the
// computed one.
type Result struct {
	Stored   uint32
	Computed uint32
	// Present is false when the image was too short to carry a
	// checksum field.
	Present bool
}

// Match reports whether a stored checksum was present and agrees with
// the computed value.
func (r Result) Match() bool {
	return r.Present && r.Stored == r.Computed
}

// Check reads the stored checksum and compares it with the computed
// one.
func Check(image []byte) Result {
	stored, present := Stored(image)
	return Result{Stored: stored, Computed: Compute(image), Present: present}
}
