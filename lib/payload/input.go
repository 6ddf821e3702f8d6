// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package payload decodes spool records from whatever a caller has in
// hand: a raw tag image, text holding a JSON-like object or hex, or an
// already-parsed mapping. The shape is resolved once, into an [Input],
// and each shape has one path into the shared field validator.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/bureau-foundation/spooltag/lib/spool"
)

// Shape identifies which variant an Input holds.
type Shape uint8

const (
	Absent Shape = iota
	Binary
	Textual
	Structured
)

func (s Shape) String() string {
	switch s {
	case Absent:
		return "absent"
	case Binary:
		return "binary"
	case Textual:
		return "text"
	case Structured:
		return "mapping"
	}
	return fmt.Sprintf("shape(%d)", uint8(s))
}

// Input is a payload of exactly one shape. The zero Input is absent.
type Input struct {
	shape  Shape
	raw    []byte
	text   string
	values map[string]any
}

// Bytes wraps a raw payload. A nil slice is absent; an empty non-nil
// slice is a (too short) binary payload.
func Bytes(raw []byte) Input {
	if raw == nil {
		return Input{}
	}
	return Input{shape: Binary, raw: raw}
}

// Text wraps a textual payload: a JSON-like object or hex digits.
func Text(text string) Input {
	return Input{shape: Textual, text: text}
}

// Mapping wraps already-parsed field/value pairs. A nil map is absent;
// an empty map decodes to the default record.
func Mapping(values map[string]any) Input {
	if values == nil {
		return Input{}
	}
	return Input{shape: Structured, values: values}
}

// Shape reports which variant the input holds.
func (i Input) Shape() Shape { return i.shape }

// FromAny resolves a dynamically typed value into an Input. nil is
// absent. Unsupported types are an error rather than a guess.
func FromAny(value any) (Input, error) {
	switch typed := value.(type) {
	case nil:
		return Input{}, nil
	case Input:
		return typed, nil
	case []byte:
		return Bytes(typed), nil
	case json.RawMessage:
		return Text(string(typed)), nil
	case string:
		return Text(typed), nil
	case map[string]any:
		return Mapping(typed), nil
	case spool.Record:
		return Mapping(typed.Map()), nil
	case *spool.Record:
		if typed == nil {
			return Input{}, nil
		}
		return Mapping(typed.Map()), nil
	}
	return Input{}, fmt.Errorf("payload: unsupported payload type %T", value)
}

// Sniff classifies bytes read from a file or stdin. Printable UTF-8
// that opens with "{" or consists of hex digits and separators is
// text; anything else is a binary payload.
func Sniff(data []byte) Input {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !utf8.Valid(trimmed) {
		return Bytes(data)
	}
	if trimmed[0] == '{' {
		return Text(string(trimmed))
	}
	if _, ok := parseHex(string(trimmed)); ok {
		return Text(string(trimmed))
	}
	return Bytes(data)
}
