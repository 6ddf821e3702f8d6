// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package taglayout describes the fixed byte layout of a spool tag
// image: where the header, the masked data sections, and the trailing
// checksum live, and the offsets of every packed field inside them.
//
// The layout is a protocol constant. Changing any offset breaks
// compatibility with every tag already written, so the table is
// checked for overlaps and bounds once at package initialization and
// a bad table panics before any codec can use it.
//
// All multi-byte integers and floats are little-endian.
//
// The name slot is 64 bytes, where the reader firmware this format
// descends from packs names into 32. Record names may be up to 64 bytes
// long, and a name must fit its slot whole for an encoded record to
// decode back unchanged, so the spool data section is 121 bytes instead
// of 89. Tags written with a 32-byte name slot do not decode correctly
// with this layout.
package taglayout

import "fmt"

// Size is the total length in bytes of a tag image, checksum included.
// Payloads shorter than Size cannot be decoded as a tag image.
const Size = 516

// Magic is the fixed header that opens every tag image.
var Magic = [4]byte{0xAA, 0x55, 0xCC, 0x33}

// Section names a region of the tag image. The coarse sections
// (Header, VersionFlags, SpoolData, ManufacturingInfo, Checksum) tile
// the parts of the image the codec interprets; the remaining values
// name individual packed fields inside SpoolData and ManufacturingInfo.
type Section int

const (
	Header Section = iota
	VersionFlags
	SpoolData
	ManufacturingInfo
	Checksum

	Version
	Flags

	TypeCode
	Color
	Diameter
	NozzleTemp
	BedTemp
	Density
	RemainingLength
	RemainingWeight
	Manufacturer
	Name

	Serial
	ManufactureDate

	sectionCount
)

// Span is a half-open byte range [Start, Start+Length) within a tag
// image.
type Span struct {
	Start  int
	Length int
}

// End returns the exclusive end offset of the span.
func (s Span) End() int { return s.Start + s.Length }

// Contains reports whether other lies entirely inside s.
func (s Span) Contains(other Span) bool {
	return other.Start >= s.Start && other.End() <= s.End()
}

// Overlaps reports whether the two spans share at least one byte.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End() && other.Start < s.End()
}

// String formats the span as "[start,end)".
func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End())
}

type entry struct {
	name   string
	span   Span
	parent Section
}

// table is indexed by Section. Field entries name their enclosing
// coarse section as parent; coarse sections are their own parent.
var table = [sectionCount]entry{
	Header:            {"header", Span{0, 4}, Header},
	VersionFlags:      {"version_flags", Span{4, 4}, VersionFlags},
	SpoolData:         {"spool_data", Span{128, 121}, SpoolData},
	ManufacturingInfo: {"manufacturing_info", Span{256, 36}, ManufacturingInfo},
	Checksum:          {"checksum", Span{512, 4}, Checksum},

	Version: {"version", Span{4, 1}, VersionFlags},
	Flags:   {"flags", Span{5, 3}, VersionFlags},

	TypeCode:        {"type_code", Span{128, 2}, SpoolData},
	Color:           {"color", Span{130, 3}, SpoolData},
	Diameter:        {"diameter", Span{133, 4}, SpoolData},
	NozzleTemp:      {"nozzle_temp", Span{137, 2}, SpoolData},
	BedTemp:         {"bed_temp", Span{139, 2}, SpoolData},
	Density:         {"density", Span{141, 4}, SpoolData},
	RemainingLength: {"remaining_length", Span{145, 4}, SpoolData},
	RemainingWeight: {"remaining_weight", Span{149, 4}, SpoolData},
	Manufacturer:    {"manufacturer", Span{153, 32}, SpoolData},
	Name:            {"name", Span{185, 64}, SpoolData},

	Serial:          {"serial", Span{256, 32}, ManufacturingInfo},
	ManufactureDate: {"manufacture_date", Span{288, 4}, ManufacturingInfo},
}

// Coarse returns the sections that tile the interpreted parts of the
// image, in ascending offset order.
func Coarse() []Section {
	return []Section{Header, VersionFlags, SpoolData, ManufacturingInfo, Checksum}
}

// Masked returns the sections whose bytes are combined with the key
// stream on the tag. The header, version, and checksum are stored in
// the clear.
func Masked() []Section {
	return []Section{SpoolData, ManufacturingInfo}
}

// String returns the section's snake_case name.
func (s Section) String() string {
	if s < 0 || s >= sectionCount {
		return fmt.Sprintf("section(%d)", int(s))
	}
	return table[s].name
}

// Parent returns the coarse section that contains s. A coarse section
// is its own parent.
func (s Section) Parent() Section {
	if s < 0 || s >= sectionCount {
		return s
	}
	return table[s].parent
}

// LayoutError reports a request for a region that does not exist or
// does not fit inside the tag image. It always indicates a programming
// error in the caller, never bad tag data.
type LayoutError struct {
	Section Section
	Span    Span
	Size    int
	Reason  string
}

func (e *LayoutError) Error() string {
	if e.Span.Length == 0 && e.Span.Start == 0 {
		return fmt.Sprintf("taglayout: %s: %s", e.Section, e.Reason)
	}
	return fmt.Sprintf("taglayout: %s %s: %s (image size %d)", e.Section, e.Span, e.Reason, e.Size)
}

// OffsetOf returns the byte span of a section. An unknown section
// yields a *LayoutError.
func OffsetOf(section Section) (Span, error) {
	if section < 0 || section >= sectionCount {
		return Span{}, &LayoutError{Section: section, Size: Size, Reason: "unknown section"}
	}
	span := table[section].span
	if span.Start < 0 || span.Length <= 0 || span.End() > Size {
		return Span{}, &LayoutError{Section: section, Span: span, Size: Size, Reason: "span outside image"}
	}
	return span, nil
}

// MustOffset is OffsetOf for sections known at compile time. It panics
// on a *LayoutError.
func MustOffset(section Section) Span {
	span, err := OffsetOf(section)
	if err != nil {
		panic(err)
	}
	return span
}

// Slice returns the bytes of section within image. The returned slice
// aliases image. An image too short to hold the section yields a
// *LayoutError.
func Slice(image []byte, section Section) ([]byte, error) {
	span, err := OffsetOf(section)
	if err != nil {
		return nil, err
	}
	if span.End() > len(image) {
		return nil, &LayoutError{Section: section, Span: span, Size: len(image), Reason: "image too short"}
	}
	return image[span.Start:span.End():span.End()], nil
}

// Validate checks the layout table: every span must fit inside Size,
// coarse sections must not overlap each other, fields must sit inside
// their parent, and sibling fields must not overlap.
func Validate() error {
	for section := range sectionCount {
		span, err := OffsetOf(section)
		if err != nil {
			return err
		}
		parent := section.Parent()
		if parent != section {
			parentSpan, err := OffsetOf(parent)
			if err != nil {
				return err
			}
			if !parentSpan.Contains(span) {
				return &LayoutError{Section: section, Span: span, Size: Size,
					Reason: fmt.Sprintf("outside parent %s %s", parent, parentSpan)}
			}
		}
		coarse := parent == section
		for other := section + 1; other < sectionCount; other++ {
			// Coarse sections are compared with coarse sections,
			// fields with siblings under the same parent.
			if coarse != (other.Parent() == other) {
				continue
			}
			if !coarse && other.Parent() != parent {
				continue
			}
			otherSpan := table[other].span
			if span.Overlaps(otherSpan) {
				return &LayoutError{Section: section, Span: span, Size: Size,
					Reason: fmt.Sprintf("overlaps %s %s", other, otherSpan)}
			}
		}
	}
	return nil
}

func init() {
	if err := Validate(); err != nil {
		panic(err)
	}
}
