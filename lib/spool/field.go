// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import "fmt"

// Field names one field of a [Record].
type Field int

const (
	FieldName Field = iota
	FieldType
	FieldColor
	FieldManufacturer
	FieldDensity
	FieldDiameter
	FieldNozzleTemp
	FieldBedTemp
	FieldRemainingLength
	FieldRemainingWeight
	FieldSerial
	FieldManufactureDate
)

var fields = [...]Field{
	FieldName, FieldType, FieldColor, FieldManufacturer,
	FieldDensity, FieldDiameter, FieldNozzleTemp, FieldBedTemp,
	FieldRemainingLength, FieldRemainingWeight,
	FieldSerial, FieldManufactureDate,
}

var fieldKeys = [...]string{
	FieldName:            "name",
	FieldType:            "type",
	FieldColor:           "color",
	FieldManufacturer:    "manufacturer",
	FieldDensity:         "density",
	FieldDiameter:        "diameter",
	FieldNozzleTemp:      "nozzle_temp",
	FieldBedTemp:         "bed_temp",
	FieldRemainingLength: "remaining_length",
	FieldRemainingWeight: "remaining_weight",
	FieldSerial:          "serial",
	FieldManufactureDate: "manufacture_date",
}

// Fields returns every record field in declaration order.
func Fields() []Field {
	return append([]Field(nil), fields[:]...)
}

// Key returns the field's mapping key, which is also its JSON name.
func (f Field) Key() string {
	if f < 0 || int(f) >= len(fieldKeys) {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldKeys[f]
}

// String returns the field's mapping key.
func (f Field) String() string { return f.Key() }

// FieldByKey looks a field up by its mapping key.
func FieldByKey(key string) (Field, bool) {
	for _, field := range fields {
		if fieldKeys[field] == key {
			return field, true
		}
	}
	return 0, false
}

// Default returns the field's default value, typed as
// [Validator.Validate] returns it.
func (f Field) Default() any {
	return Default().Get(f)
}
