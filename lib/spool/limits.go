// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import "fmt"

// Range is an inclusive numeric range.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether value lies within the range.
func (r Range) Contains(value float64) bool {
	return value >= r.Min && value <= r.Max
}

// Limits holds the length and range constraints applied by a
// [Validator].
type Limits struct {
	// Text limits are UTF-8 byte budgets matching the on-tag slot
	// widths. Longer text is cut at a rune boundary.
	NameMax         int
	ManufacturerMax int
	SerialMax       int

	Density    Range
	Diameter   Range
	NozzleTemp Range
	BedTemp    Range
}

// StandardLimits returns the widest accepted ranges.
func StandardLimits() Limits {
	return Limits{
		NameMax:         64,
		ManufacturerMax: 32,
		SerialMax:       32,
		Density:         Range{Min: 0.5, Max: 5.0},
		Diameter:        Range{Min: 1.0, Max: 3.0},
		NozzleTemp:      Range{Min: 150, Max: 350},
		BedTemp:         Range{Min: 0, Max: 150},
	}
}

// NarrowLimits returns the conservative ranges used by front-ends that
// only offer common printer settings.
func NarrowLimits() Limits {
	limits := StandardLimits()
	limits.Density = Range{Min: 0.8, Max: 3.5}
	limits.NozzleTemp = Range{Min: 150, Max: 300}
	limits.BedTemp = Range{Min: 0, Max: 120}
	return limits
}

// LimitsByName returns the named limit set: "standard" (or "") or
// "narrow".
func LimitsByName(name string) (Limits, error) {
	switch name {
	case "", "standard":
		return StandardLimits(), nil
	case "narrow":
		return NarrowLimits(), nil
	}
	return Limits{}, fmt.Errorf("unknown limit set %q (want standard or narrow)", name)
}
