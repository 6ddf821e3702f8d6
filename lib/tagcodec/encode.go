// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagcodec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/bureau-foundation/spooltag/lib/spool"
	"github.com/bureau-foundation/spooltag/lib/taglayout"
	"github.com/bureau-foundation/spooltag/lib/tagsum"
)

// Packed is the full result of encoding a record.
type Packed struct {
	// Image is the masked, checksummed tag image.
	Image []byte

	// Record is exactly what the image stores: the input after
	// validation and slot-width clamping.
	Record spool.Record

	Corrections []spool.Correction
}

// Encode turns a record into a tag image. See Pack.
func (c *Codec) Encode(record spool.Record) ([]byte, error) {
	packed, err := c.Pack(record, 0)
	if err != nil {
		return nil, err
	}
	return packed.Image, nil
}

// Pack re-validates record, packs it into a fresh image with the
// codec's version and the given flags, masks the data sections, and
// seals the checksum. Corrections made on the way are logged and
// returned. An error means a programming fault (layout or flags), never
// bad record data.
func (c *Codec) Pack(record spool.Record, flags uint32) (*Packed, error) {
	if flags > MaxFlags {
		return nil, fmt.Errorf("tagcodec: flags %#x exceed 24 bits", flags)
	}

	validated, corrections := c.validator.Check(record)

	image := make([]byte, taglayout.Size)
	copy(image, taglayout.Magic[:])
	image[taglayout.MustOffset(taglayout.Version).Start] = c.version
	flagSpan := taglayout.MustOffset(taglayout.Flags)
	for index := range flagSpan.Length {
		image[flagSpan.Start+index] = byte(flags >> (8 * index))
	}

	writer := fieldWriter{image: image}
	validated.Name, corrections = writer.putText(taglayout.Name, spool.FieldName, validated.Name, corrections)
	validated.Manufacturer, corrections = writer.putText(taglayout.Manufacturer, spool.FieldManufacturer, validated.Manufacturer, corrections)
	validated.Serial, corrections = writer.putText(taglayout.Serial, spool.FieldSerial, validated.Serial, corrections)

	code, ok := validated.Type.Code()
	if !ok {
		return nil, fmt.Errorf("tagcodec: validated kind %q has no type code", validated.Type)
	}
	writer.putUint16(taglayout.TypeCode, code)
	writer.putColor(validated.Color)
	writer.putFloat32(taglayout.Diameter, validated.Diameter)
	writer.putUint16(taglayout.NozzleTemp, uint16(validated.NozzleTemp))
	writer.putUint16(taglayout.BedTemp, uint16(validated.BedTemp))
	writer.putFloat32(taglayout.Density, validated.Density)
	writer.putFloat32(taglayout.RemainingLength, validated.RemainingLength)
	writer.putFloat32(taglayout.RemainingWeight, validated.RemainingWeight)
	writer.putUint32(taglayout.ManufactureDate, uint32(validated.ManufactureDate))
	if writer.err != nil {
		return nil, writer.err
	}

	spool.LogCorrections(c.logger, corrections)

	// Sealed before masking: the checksum covers the unmasked image.
	if err := tagsum.Seal(image); err != nil {
		return nil, err
	}
	for _, section := range taglayout.Masked() {
		span := taglayout.MustOffset(section)
		c.mask.Apply(image[span.Start:span.End()], span.Start)
	}

	return &Packed{Image: image, Record: validated, Corrections: corrections}, nil
}

// fieldWriter packs values into an unmasked image. The first failure
// sticks in err and later writes are skipped.
type fieldWriter struct {
	image []byte
	err   error
}

func (w *fieldWriter) slot(section taglayout.Section, width int) []byte {
	if w.err != nil {
		return nil
	}
	slot, err := taglayout.Slice(w.image, section)
	if err != nil {
		w.err = err
		return nil
	}
	if width > 0 && len(slot) != width {
		w.err = &taglayout.LayoutError{
			Section: section,
			Span:    taglayout.MustOffset(section),
			Size:    len(w.image),
			Reason:  fmt.Sprintf("slot is %d bytes, value needs %d", len(slot), width),
		}
		return nil
	}
	return slot
}

func (w *fieldWriter) putUint16(section taglayout.Section, value uint16) {
	if slot := w.slot(section, 2); slot != nil {
		binary.LittleEndian.PutUint16(slot, value)
	}
}

func (w *fieldWriter) putUint32(section taglayout.Section, value uint32) {
	if slot := w.slot(section, 4); slot != nil {
		binary.LittleEndian.PutUint32(slot, value)
	}
}

func (w *fieldWriter) putFloat32(section taglayout.Section, value float64) {
	w.putUint32(section, math.Float32bits(float32(value)))
}

func (w *fieldWriter) putColor(color string) {
	slot := w.slot(taglayout.Color, 3)
	if slot == nil {
		return
	}
	rgb, err := hex.DecodeString(strings.TrimPrefix(color, "#"))
	if err != nil || len(rgb) != 3 {
		w.err = fmt.Errorf("tagcodec: validated colour %q is not #RRGGBB", color)
		return
	}
	copy(slot, rgb)
}

// putText writes value NUL-padded into its slot. A value wider than the
// slot is cut at a rune boundary and the cut is recorded as a
// correction; the returned string is what the slot now holds.
func (w *fieldWriter) putText(section taglayout.Section, field spool.Field, value string, corrections []spool.Correction) (string, []spool.Correction) {
	slot := w.slot(section, 0)
	if slot == nil {
		return value, corrections
	}
	stored := value
	if len(stored) > len(slot) {
		stored = strings.TrimSpace(spool.TruncateUTF8(stored, len(slot)))
		corrections = append(corrections, spool.Correction{
			Field:   field,
			Outcome: spool.Truncated,
			Raw:     value,
			Value:   stored,
		})
	}
	clear(slot)
	copy(slot, stored)
	return stored, corrections
}
