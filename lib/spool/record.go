// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package spool defines the filament spool record carried on a tag and
// the field validator that turns untrusted values into a record whose
// every field is within its declared constraints.
//
// Validation never fails. A value that cannot be coerced, or that is
// out of range, is replaced by the field's default; an over-long
// string is truncated. Each substitution is returned as a [Correction]
// so callers can log what changed.
package spool

import (
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/spooltag/lib/codec"
)

// Field defaults.
const (
	DefaultName         = "Unknown Filament"
	DefaultType         = KindPLA
	DefaultColor        = "#FFFFFF"
	DefaultManufacturer = "Unknown"
	DefaultDensity      = 1.24
	DefaultDiameter     = 1.75
	DefaultNozzleTemp   = 200
	DefaultBedTemp      = 60
)

// Record is a validated filament spool description. Records returned
// by [Validator.Mapping] and [Validator.Check] satisfy every field
// constraint and are in canonical form, so checking them again reports
// nothing. A hand-built record in another form comes back from Check
// rewritten, with a [Normalized] correction per rewritten field.
// Record is comparable with ==.
type Record struct {
	Name            string  `json:"name"`
	Type            Kind    `json:"type"`
	Color           string  `json:"color"`
	Manufacturer    string  `json:"manufacturer"`
	Density         float64 `json:"density"`
	Diameter        float64 `json:"diameter"`
	NozzleTemp      int     `json:"nozzle_temp"`
	BedTemp         int     `json:"bed_temp"`
	RemainingLength float64 `json:"remaining_length"`
	RemainingWeight float64 `json:"remaining_weight"`
	Serial          string  `json:"serial"`
	ManufactureDate int64   `json:"manufacture_date"`
}

// Default returns the record whose every field holds its default.
func Default() Record {
	return Record{
		Name:         DefaultName,
		Type:         DefaultType,
		Color:        DefaultColor,
		Manufacturer: DefaultManufacturer,
		Density:      DefaultDensity,
		Diameter:     DefaultDiameter,
		NozzleTemp:   DefaultNozzleTemp,
		BedTemp:      DefaultBedTemp,
	}
}

// Get returns the value of field as stored in r.
func (r Record) Get(field Field) any {
	switch field {
	case FieldName:
		return r.Name
	case FieldType:
		return r.Type
	case FieldColor:
		return r.Color
	case FieldManufacturer:
		return r.Manufacturer
	case FieldDensity:
		return r.Density
	case FieldDiameter:
		return r.Diameter
	case FieldNozzleTemp:
		return r.NozzleTemp
	case FieldBedTemp:
		return r.BedTemp
	case FieldRemainingLength:
		return r.RemainingLength
	case FieldRemainingWeight:
		return r.RemainingWeight
	case FieldSerial:
		return r.Serial
	case FieldManufactureDate:
		return r.ManufactureDate
	}
	return nil
}

// set stores a validated value. The value's dynamic type must match
// the one [Validator.Validate] returns for field.
func (r *Record) set(field Field, value any) {
	switch field {
	case FieldName:
		r.Name = value.(string)
	case FieldType:
		r.Type = value.(Kind)
	case FieldColor:
		r.Color = value.(string)
	case FieldManufacturer:
		r.Manufacturer = value.(string)
	case FieldDensity:
		r.Density = value.(float64)
	case FieldDiameter:
		r.Diameter = value.(float64)
	case FieldNozzleTemp:
		r.NozzleTemp = value.(int)
	case FieldBedTemp:
		r.BedTemp = value.(int)
	case FieldRemainingLength:
		r.RemainingLength = value.(float64)
	case FieldRemainingWeight:
		r.RemainingWeight = value.(float64)
	case FieldSerial:
		r.Serial = value.(string)
	case FieldManufactureDate:
		r.ManufactureDate = value.(int64)
	}
}

// Map returns r as a field-keyed mapping using the JSON field names.
func (r Record) Map() map[string]any {
	result := make(map[string]any, len(fields))
	for _, field := range fields {
		result[field.Key()] = r.Get(field)
	}
	return result
}

// Fingerprint returns a BLAKE3 digest of the record's deterministic
// CBOR encoding. Equal records have equal fingerprints.
func (r Record) Fingerprint() (string, error) {
	encoded, err := codec.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("spool: encoding record: %w", err)
	}
	digest := blake3.Sum256(encoded)
	return fmt.Sprintf("%x", digest[:16]), nil
}
