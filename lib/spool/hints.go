// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

// Hint flags a temperature that is within the field's accepted range
// but unusual for the record's filament family. Hints never change a
// record.
type Hint struct {
	Field  Field
	Value  int
	Family Kind
	Range  Range
}

type temperatureProfile struct {
	nozzle Range
	bed    Range
}

var profiles = map[Kind]temperatureProfile{
	KindPLA:  {nozzle: Range{Min: 180, Max: 230}, bed: Range{Min: 0, Max: 80}},
	KindPETG: {nozzle: Range{Min: 230, Max: 270}, bed: Range{Min: 70, Max: 90}},
	KindABS:  {nozzle: Range{Min: 240, Max: 280}, bed: Range{Min: 80, Max: 110}},
	KindTPU:  {nozzle: Range{Min: 200, Max: 240}, bed: Range{Min: 30, Max: 70}},
}

// PlausibilityHints compares the record's temperatures with the usual
// window for its filament family.
func PlausibilityHints(record Record) []Hint {
	family := record.Type.Family()
	profile, ok := profiles[family]
	if !ok {
		return nil
	}
	var hints []Hint
	if !profile.nozzle.Contains(float64(record.NozzleTemp)) {
		hints = append(hints, Hint{Field: FieldNozzleTemp, Value: record.NozzleTemp, Family: family, Range: profile.nozzle})
	}
	if !profile.bed.Contains(float64(record.BedTemp)) {
		hints = append(hints, Hint{Field: FieldBedTemp, Value: record.BedTemp, Family: family, Range: profile.bed})
	}
	return hints
}

// TemperatureProfile returns the usual nozzle and bed windows for the
// family of kind. ok is false for families without a profile.
func TemperatureProfile(kind Kind) (nozzle, bed Range, ok bool) {
	profile, ok := profiles[kind.Family()]
	return profile.nozzle, profile.bed, ok
}
