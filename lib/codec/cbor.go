// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by every package
// that stores or emits spool records in binary form: record snapshots
// on the command line, scan journal rows, and record fingerprints.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same record always produces the same bytes and a digest of those
// bytes identifies the record. Types carry `json` tags only;
// fxamacker/cbor falls back to them for field names, so one tag
// governs both the JSON and the CBOR form.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Snapshots decoded into any must come back as
		// map[string]any so they can feed the mapping decode path.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for
// data.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
