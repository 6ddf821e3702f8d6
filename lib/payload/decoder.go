// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/spooltag/lib/spool"
	"github.com/bureau-foundation/spooltag/lib/tagcodec"
	"github.com/bureau-foundation/spooltag/lib/taglayout"
)

// Format is the concrete encoding a payload turned out to have.
type Format uint8

const (
	// FormatMapping is a caller-supplied mapping.
	FormatMapping Format = iota
	// FormatJSON is text holding a JSON-like object.
	FormatJSON
	// FormatHex is text holding a hex-encoded tag image.
	FormatHex
	// FormatImage is a binary tag image.
	FormatImage
	// FormatEmbedded is a short binary payload carrying a structured
	// object between non-tag framing bytes.
	FormatEmbedded
)

func (f Format) String() string {
	switch f {
	case FormatMapping:
		return "mapping"
	case FormatJSON:
		return "json"
	case FormatHex:
		return "hex"
	case FormatImage:
		return "image"
	case FormatEmbedded:
		return "embedded"
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// Result is the full outcome of decoding a payload.
type Result struct {
	Record spool.Record
	Format Format

	// Tag holds header and integrity details when the payload was a
	// tag image (FormatImage, or FormatHex that decoded to one).
	Tag *tagcodec.Decoded

	Corrections []spool.Correction
	Hints       []spool.Hint
}

// Decoder routes each payload shape to its decode path. It holds only
// immutable collaborators and is safe for concurrent use.
type Decoder struct {
	codec     *tagcodec.Codec
	validator *spool.Validator
	logger    *slog.Logger
}

// NewDecoder returns a Decoder that hands tag images to codec and
// validates mappings with the codec's validator.
func NewDecoder(codec *tagcodec.Codec, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Decoder{codec: codec, validator: codec.Validator(), logger: logger}
}

// Decode returns the record a payload describes. See DecodeDetailed.
func (d *Decoder) Decode(input Input) (spool.Record, error) {
	result, err := d.DecodeDetailed(input)
	if err != nil {
		return spool.Record{}, err
	}
	return result.Record, nil
}

// DecodeDetailed returns the record a payload describes together with
// how it was read. Field problems are corrected and logged; only an
// absent payload, a binary payload too short to hold a tag image (and
// carrying no embedded object), unrecognizable text, or a strict
// integrity failure is an error, always a *tagcodec.DecodingError.
func (d *Decoder) DecodeDetailed(input Input) (*Result, error) {
	var result *Result
	var err error
	switch input.shape {
	case Structured:
		result = d.fromMapping(input.values, FormatMapping)
	case Textual:
		result, err = d.fromText(input.text)
	case Binary:
		result, err = d.fromBinary(input.raw, FormatImage)
	default:
		return nil, tagcodec.Errorf(tagcodec.ErrNilPayload, "no payload")
	}
	if err != nil {
		return nil, err
	}

	result.Hints = spool.PlausibilityHints(result.Record)
	for _, hint := range result.Hints {
		d.logger.Warn("temperature unusual for filament family",
			"field", hint.Field.Key(),
			"value", hint.Value,
			"family", string(hint.Family),
			"usual_min", hint.Range.Min,
			"usual_max", hint.Range.Max,
		)
	}
	return result, nil
}

func (d *Decoder) fromMapping(values map[string]any, format Format) *Result {
	record, corrections := d.validator.Mapping(flatten(values))
	spool.LogCorrections(d.logger, corrections)
	return &Result{Record: record, Format: format, Corrections: corrections}
}

func (d *Decoder) fromText(text string) (*Result, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, tagcodec.Errorf(tagcodec.ErrUnrecognizedString, "unrecognized string payload: empty")
	}
	if values, ok := parseObject([]byte(trimmed)); ok {
		return d.fromMapping(values, FormatJSON), nil
	}
	if raw, ok := parseHex(trimmed); ok {
		return d.fromBinary(raw, FormatHex)
	}
	return nil, tagcodec.Errorf(tagcodec.ErrUnrecognizedString,
		"unrecognized string payload: neither a structured object nor hex (%d characters)", len(trimmed))
}

func (d *Decoder) fromBinary(raw []byte, format Format) (*Result, error) {
	if len(raw) >= taglayout.Size {
		decoded, err := d.codec.DecodeDetailed(raw)
		if err != nil {
			return nil, err
		}
		return &Result{Record: decoded.Record, Format: format, Tag: decoded, Corrections: decoded.Corrections}, nil
	}

	if values, ok := embeddedObject(raw); ok {
		d.logger.Warn("payload shorter than a tag image, decoding embedded structured data",
			"bytes", len(raw),
			"need", taglayout.Size,
		)
		return d.fromMapping(values, FormatEmbedded), nil
	}
	return nil, tagcodec.Errorf(tagcodec.ErrPayloadTooShort,
		"payload too short: %d bytes, need %d", len(raw), taglayout.Size)
}

// Plausible is a cheap pre-check: it reports whether input has a shape
// and content that could decode without error, without validating
// fields or logging.
func Plausible(input Input) bool {
	switch input.shape {
	case Structured:
		return true
	case Textual:
		trimmed := strings.TrimSpace(input.text)
		if _, ok := parseObject([]byte(trimmed)); ok {
			return true
		}
		raw, ok := parseHex(trimmed)
		return ok && binaryPlausible(raw)
	case Binary:
		return binaryPlausible(input.raw)
	}
	return false
}

func binaryPlausible(raw []byte) bool {
	if len(raw) >= taglayout.Size {
		return true
	}
	_, ok := embeddedObject(raw)
	return ok
}

// parseObject parses JSON-like text (comments and trailing commas
// allowed) that must hold exactly one object. Numbers are kept as
// json.Number so integer fields do not pass through float64.
func parseObject(text []byte) (map[string]any, bool) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(text)))
	decoder.UseNumber()
	var values map[string]any
	if err := decoder.Decode(&values); err != nil || values == nil {
		return nil, false
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return values, true
}

// parseHex decodes hex text after removing "0x" prefixes, whitespace,
// and ":" or "-" separators.
func parseHex(text string) ([]byte, bool) {
	cleaned := strings.NewReplacer("0x", "", "0X", "").Replace(text)
	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':', '-':
			return -1
		}
		return r
	}, cleaned)
	if cleaned == "" || len(cleaned)%2 != 0 {
		return nil, false
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// embeddedObject finds the first balanced {...} span in raw that
// parses as an object.
func embeddedObject(raw []byte) (map[string]any, bool) {
	for start := 0; start < len(raw); start++ {
		if raw[start] != '{' {
			continue
		}
		length, ok := balancedObject(raw[start:])
		if !ok {
			continue
		}
		if values, ok := parseObject(raw[start : start+length]); ok {
			return values, true
		}
	}
	return nil, false
}

// balancedObject returns the length of the brace-balanced span that
// opens data, skipping braces inside JSON strings.
func balancedObject(data []byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for index, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return index + 1, true
			}
		}
	}
	return 0, false
}

// flatten accepts the nested shape some writers produce
// ({"spool_data": {...}, "manufacturing_info": {...}}) alongside the
// flat one. Top-level keys win over nested ones. "date" is accepted
// for manufacture_date.
func flatten(values map[string]any) map[string]any {
	spoolData, nestedSpool := values["spool_data"].(map[string]any)
	manufacturing, nestedManufacturing := values["manufacturing_info"].(map[string]any)
	_, hasDate := values["date"]
	if !nestedSpool && !nestedManufacturing && !hasDate {
		return values
	}

	flat := make(map[string]any, len(values)+len(spoolData)+len(manufacturing))
	for _, nested := range []map[string]any{manufacturing, spoolData, values} {
		for key, value := range nested {
			flat[key] = value
		}
	}
	if _, ok := flat["manufacture_date"]; !ok {
		if date, ok := flat["date"]; ok {
			flat["manufacture_date"] = date
		}
	}
	return flat
}
