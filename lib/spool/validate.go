// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Outcome records what validation did to a value.
type Outcome uint8

const (
	// Valid means the value was accepted as given, or converted from
	// another type without changing what it says (numeric strings,
	// type codes, float32 values).
	Valid Outcome = iota

	// Missing means no value was supplied and the default was used.
	Missing

	// Defaulted means the value could not be coerced or was out of
	// range, and the default was used.
	Defaulted

	// Truncated means the value was kept but shortened: characters
	// beyond the length limit or unprintable characters were dropped,
	// or a fractional part was discarded from an integer field.
	Truncated

	// Normalized means the value was kept but rewritten into its
	// canonical form: surrounding whitespace removed, colour digits
	// upper-cased, kind spelling canonicalized, or float precision
	// narrowed to what a 4-byte slot holds.
	Normalized
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Missing:
		return "missing"
	case Defaulted:
		return "defaulted"
	case Truncated:
		return "truncated"
	case Normalized:
		return "normalized"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// Substituted reports whether the default replaced the input.
func (o Outcome) Substituted() bool {
	return o == Missing || o == Defaulted
}

// Correction describes one field that did not pass validation as
// given.
type Correction struct {
	Field   Field
	Outcome Outcome
	Raw     any
	Value   any
}

// Validator coerces and range-checks field values. It holds only its
// limits and is safe for concurrent use.
type Validator struct {
	limits Limits
}

// NewValidator returns a validator enforcing limits.
func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// Limits returns the validator's limits.
func (v *Validator) Limits() Limits { return v.limits }

// Validate coerces raw into field's canonical type and checks it. The
// returned value always satisfies the field's constraint. Validate
// never panics.
//
// Canonical value types: string for text and colour fields, [Kind] for
// the type, float64 for density, diameter, and remaining amounts, int
// for temperatures, and int64 for the manufacture date.
func (v *Validator) Validate(field Field, raw any) (any, Outcome) {
	if raw == nil {
		return field.Default(), Missing
	}
	switch field {
	case FieldName:
		return validateText(raw, v.limits.NameMax, DefaultName)
	case FieldManufacturer:
		return validateText(raw, v.limits.ManufacturerMax, DefaultManufacturer)
	case FieldSerial:
		return validateText(raw, v.limits.SerialMax, "")
	case FieldType:
		return validateKind(raw)
	case FieldColor:
		return validateColor(raw)
	case FieldDensity:
		return validateFloat(raw, v.limits.Density, DefaultDensity)
	case FieldDiameter:
		return validateFloat(raw, v.limits.Diameter, DefaultDiameter)
	case FieldNozzleTemp:
		return validateInt(raw, v.limits.NozzleTemp, DefaultNozzleTemp)
	case FieldBedTemp:
		return validateInt(raw, v.limits.BedTemp, DefaultBedTemp)
	case FieldRemainingLength, FieldRemainingWeight:
		return validateAmount(raw)
	case FieldManufactureDate:
		return validateDate(raw)
	}
	return nil, Defaulted
}

// Mapping builds a record from a field-keyed mapping. Absent keys and
// nil values take their defaults; unknown keys are ignored.
func (v *Validator) Mapping(values map[string]any) (Record, []Correction) {
	var record Record
	var corrections []Correction
	for _, field := range fields {
		raw := values[field.Key()]
		value, outcome := v.Validate(field, raw)
		record.set(field, value)
		if outcome != Valid {
			corrections = append(corrections, Correction{Field: field, Outcome: outcome, Raw: raw, Value: value})
		}
	}
	return record, corrections
}

// Check re-validates a typed record, such as one a caller assembled by
// hand before encoding. A record that already satisfies every
// constraint comes back unchanged with no corrections.
func (v *Validator) Check(input Record) (Record, []Correction) {
	var record Record
	var corrections []Correction
	for _, field := range fields {
		raw := input.Get(field)
		value, outcome := v.Validate(field, raw)
		record.set(field, value)
		if outcome != Valid {
			corrections = append(corrections, Correction{Field: field, Outcome: outcome, Raw: raw, Value: value})
		}
	}
	return record, corrections
}

// LogCorrections reports corrections through logger: normalizations at
// debug level, missing fields at info level, substitutions and
// truncations at warn level.
func LogCorrections(logger *slog.Logger, corrections []Correction) {
	for _, correction := range corrections {
		level := slog.LevelWarn
		message := "field value replaced with default"
		switch correction.Outcome {
		case Missing:
			level = slog.LevelInfo
			message = "field missing, using default"
		case Truncated:
			message = "field value truncated"
		case Normalized:
			level = slog.LevelDebug
			message = "field value normalized"
		}
		logger.Log(context.Background(), level, message,
			"field", correction.Field.Key(),
			"outcome", correction.Outcome.String(),
			"raw", fmt.Sprint(correction.Raw),
			"value", correction.Value,
		)
	}
}

func validateText(raw any, maxBytes int, fallback string) (any, Outcome) {
	text, ok := asText(raw)
	if !ok {
		return fallback, Defaulted
	}
	cleaned, dropped := printable(text)
	kept := Valid
	switch {
	case dropped:
		kept = Truncated
	case cleaned != text:
		kept = Normalized
	}
	if cleaned == "" {
		if fallback == "" {
			return "", kept
		}
		return fallback, Defaulted
	}
	if len(cleaned) > maxBytes {
		return strings.TrimSpace(TruncateUTF8(cleaned, maxBytes)), Truncated
	}
	return cleaned, kept
}

// printable trims surrounding whitespace and removes unprintable runes
// and invalid UTF-8. dropped reports whether anything other than
// surrounding whitespace was removed.
func printable(text string) (cleaned string, dropped bool) {
	var builder strings.Builder
	builder.Grow(len(text))
	for index, r := range text {
		if r == utf8.RuneError {
			if _, width := utf8.DecodeRuneInString(text[index:]); width <= 1 {
				dropped = true
				continue
			}
		}
		if !unicode.IsPrint(r) {
			dropped = true
			continue
		}
		builder.WriteRune(r)
	}
	return strings.TrimSpace(builder.String()), dropped
}

// TruncateUTF8 shortens text to at most n bytes without splitting a
// multi-byte rune.
func TruncateUTF8(text string, n int) string {
	if len(text) <= n {
		return text
	}
	if n <= 0 {
		return ""
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func asText(raw any) (string, bool) {
	switch value := raw.(type) {
	case string:
		return value, true
	case Kind:
		return string(value), true
	case []byte:
		return string(value), true
	case json.Number:
		return value.String(), true
	case bool:
		return strconv.FormatBool(value), true
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(value), 'g', -1, 32), true
	case fmt.Stringer:
		return value.String(), true
	}
	if number, ok := asInteger(raw); ok {
		return strconv.FormatInt(number, 10), true
	}
	return "", false
}

func validateKind(raw any) (any, Outcome) {
	var text string
	switch value := raw.(type) {
	case string:
		text = value
	case Kind:
		text = string(value)
	case []byte:
		text = string(value)
	}
	if text != "" {
		kind, ok := ParseKind(text)
		if !ok {
			return DefaultType, Defaulted
		}
		if string(kind) != text {
			return kind, Normalized
		}
		return kind, Valid
	}
	// Numbers are taken as on-tag type codes.
	if number, ok := asFloat(raw); ok && number >= 0 && number == math.Trunc(number) && number <= math.MaxUint16 {
		if kind, ok := KindForCode(uint16(number)); ok {
			return kind, Valid
		}
	}
	return DefaultType, Defaulted
}

func validateColor(raw any) (any, Outcome) {
	text, ok := raw.(string)
	if !ok {
		return DefaultColor, Defaulted
	}
	color := strings.ToUpper(strings.TrimSpace(text))
	if !IsColor(color) {
		return DefaultColor, Defaulted
	}
	if color != text {
		return color, Normalized
	}
	return color, Valid
}

// IsColor reports whether text has the form #RRGGBB.
func IsColor(text string) bool {
	if len(text) != 7 || text[0] != '#' {
		return false
	}
	for index := 1; index < 7; index++ {
		c := text[index]
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !isHex {
			return false
		}
	}
	return true
}

func validateFloat(raw any, bounds Range, fallback float64) (any, Outcome) {
	number, ok := asFloat(raw)
	if !ok {
		return fallback, Defaulted
	}
	canonical := Float32Canonical(number)
	if !bounds.Contains(canonical) {
		return fallback, Defaulted
	}
	return canonical, precisionOutcome(number, canonical)
}

func validateAmount(raw any) (any, Outcome) {
	number, ok := asFloat(raw)
	if !ok || number < 0 || number > math.MaxFloat32 {
		return 0.0, Defaulted
	}
	canonical := Float32Canonical(number)
	if canonical == 0 {
		canonical = 0
	}
	return canonical, precisionOutcome(number, canonical)
}

// precisionOutcome reports Normalized when narrowing number to float32
// lost digits. Values that already fit a float32 exactly are Valid
// even when their shortest decimal form differs.
func precisionOutcome(number, canonical float64) Outcome {
	if canonical != number && float64(float32(number)) != number {
		return Normalized
	}
	return Valid
}

func validateInt(raw any, bounds Range, fallback int) (any, Outcome) {
	number, ok := asFloat(raw)
	if !ok {
		return fallback, Defaulted
	}
	whole := math.Trunc(number)
	if !bounds.Contains(whole) {
		return fallback, Defaulted
	}
	if whole != number {
		return int(whole), Truncated
	}
	return int(whole), Valid
}

func validateDate(raw any) (any, Outcome) {
	switch value := raw.(type) {
	case time.Time:
		raw = value.Unix()
	case string:
		trimmed := strings.TrimSpace(value)
		if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
			raw = parsed.Unix()
		} else if parsed, err := time.Parse(time.DateOnly, trimmed); err == nil {
			raw = parsed.Unix()
		}
	}
	number, ok := asFloat(raw)
	if !ok {
		return int64(0), Defaulted
	}
	whole := math.Trunc(number)
	if whole < 0 || whole > math.MaxUint32 {
		return int64(0), Defaulted
	}
	if whole != number {
		return int64(whole), Truncated
	}
	return int64(whole), Valid
}

// Float32Canonical rounds value to float32 precision and returns the
// shortest decimal that identifies that float32, as a float64. Values
// that pass through a 4-byte float slot come back equal to their
// canonical form.
func Float32Canonical(value float64) float64 {
	narrowed := float32(value)
	if math.IsInf(float64(narrowed), 0) || math.IsNaN(float64(narrowed)) {
		return float64(narrowed)
	}
	canonical, err := strconv.ParseFloat(strconv.FormatFloat(float64(narrowed), 'g', -1, 32), 64)
	if err != nil {
		return float64(narrowed)
	}
	return canonical
}

// asFloat coerces numbers and numeric strings. Booleans, NaN, and
// infinities are rejected.
func asFloat(raw any) (float64, bool) {
	var number float64
	switch value := raw.(type) {
	case float64:
		number = value
	case float32:
		number = float64(value)
	case json.Number:
		parsed, err := strconv.ParseFloat(value.String(), 64)
		if err != nil {
			return 0, false
		}
		number = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false
		}
		number = parsed
	case uint:
		number = float64(value)
	case uint64:
		number = float64(value)
	default:
		integer, ok := asInteger(raw)
		if !ok {
			return 0, false
		}
		number = float64(integer)
	}
	if math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false
	}
	return number, true
}

func asInteger(raw any) (int64, bool) {
	switch value := raw.(type) {
	case int:
		return int64(value), true
	case int8:
		return int64(value), true
	case int16:
		return int64(value), true
	case int32:
		return int64(value), true
	case int64:
		return value, true
	case uint8:
		return int64(value), true
	case uint16:
		return int64(value), true
	case uint32:
		return int64(value), true
	case uint:
		if uint64(value) > math.MaxInt64 {
			return 0, false
		}
		return int64(value), true
	case uint64:
		if value > math.MaxInt64 {
			return 0, false
		}
		return int64(value), true
	}
	return 0, false
}
