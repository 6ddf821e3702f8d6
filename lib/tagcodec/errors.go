// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagcodec

import (
	"errors"
	"fmt"
)

// Whole-payload failures. Each reaches callers wrapped in a
// *DecodingError; test with errors.Is.
var (
	// ErrNilPayload means there was no input at all.
	ErrNilPayload = errors.New("no payload")

	// ErrPayloadTooShort means a binary payload cannot hold a tag
	// image.
	ErrPayloadTooShort = errors.New("payload too short")

	// ErrUnrecognizedString means text input was neither a structured
	// object nor hex.
	ErrUnrecognizedString = errors.New("unrecognized string payload")

	// ErrChecksumMismatch means the stored checksum disagreed with
	// the image and strict integrity checking is enabled.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// DecodingError reports a payload that cannot produce a record. No
// partial record accompanies it.
type DecodingError struct {
	// Reason is a human-readable description including sizes or
	// offsets where relevant.
	Reason string

	// Err is one of the sentinel errors above.
	Err error
}

func (e *DecodingError) Error() string {
	return "decoding tag payload: " + e.Reason
}

func (e *DecodingError) Unwrap() error { return e.Err }

// Errorf builds a *DecodingError wrapping sentinel with a formatted
// reason.
func Errorf(sentinel error, format string, args ...any) *DecodingError {
	return &DecodingError{Reason: fmt.Sprintf(format, args...), Err: sentinel}
}
