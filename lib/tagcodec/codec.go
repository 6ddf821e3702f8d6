// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tagcodec converts between tag images and spool records.
//
// Decoding slices a raw image by the fixed layout, unmasks the data
// sections with the key stream, checks the stored checksum against the
// unmasked image, and runs every field through the validator. Encoding
// runs the same steps in reverse: it seals the checksum over the
// unmasked image, then masks. A decode with the wrong key therefore
// fails the checksum like a damaged tag does. Masking is an XOR with
// the key stream at each byte's absolute offset, so both directions
// share one transform.
//
// A header or checksum mismatch does not stop a decode: the result is
// marked low confidence and a warning is logged. Only an absent or
// too-short payload fails, unless strict integrity is configured, in
// which case a checksum mismatch fails too.
package tagcodec

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/bureau-foundation/spooltag/lib/spool"
	"github.com/bureau-foundation/spooltag/lib/taglayout"
	"github.com/bureau-foundation/spooltag/lib/tagsum"
)

// DefaultVersion is the layout version written into new images.
const DefaultVersion = 1

// MaxFlags is the largest value the 24-bit flags field holds.
const MaxFlags = 1<<24 - 1

// Mask applies the key stream to a byte range in place. data starts at
// absolute image offset offset. Applying it twice restores data.
// *tagkey.Provider implements Mask.
type Mask interface {
	Apply(data []byte, offset int)
}

// Options configures a Codec.
type Options struct {
	// StrictIntegrity makes a checksum mismatch fail the decode with
	// ErrChecksumMismatch instead of logging a warning.
	StrictIntegrity bool

	// Version is written into encoded images. Zero selects
	// DefaultVersion.
	Version uint8

	// Logger receives integrity warnings and field corrections. If
	// nil, a no-op logger is used.
	Logger *slog.Logger
}

// Codec decodes and encodes tag images. It holds only immutable
// configuration and is safe for concurrent use.
type Codec struct {
	mask      Mask
	validator *spool.Validator
	strict    bool
	version   uint8
	logger    *slog.Logger
}

// New returns a Codec that masks with mask and validates with
// validator.
func New(mask Mask, validator *spool.Validator, options Options) (*Codec, error) {
	if mask == nil {
		return nil, errors.New("tagcodec: mask is required")
	}
	if validator == nil {
		return nil, errors.New("tagcodec: validator is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	version := options.Version
	if version == 0 {
		version = DefaultVersion
	}
	return &Codec{
		mask:      mask,
		validator: validator,
		strict:    options.StrictIntegrity,
		version:   version,
		logger:    logger,
	}, nil
}

// Validator returns the codec's field validator.
func (c *Codec) Validator() *spool.Validator { return c.validator }

// Header is the clear-text preamble of a tag image.
type Header struct {
	Magic   [4]byte
	Version uint8
	Flags   uint32
}

// MagicValid reports whether the header opens with taglayout.Magic.
func (h Header) MagicValid() bool { return h.Magic == taglayout.Magic }

// Confidence grades how far a decoded record can be trusted.
type Confidence uint8

const (
	// High means the header magic and the checksum both matched.
	High Confidence = iota
	// Low means the header or the checksum did not match; the record
	// is a best-effort reading.
	Low
)

func (c Confidence) String() string {
	if c == High {
		return "high"
	}
	return "low"
}

// Integrity records the results of the header and checksum checks.
type Integrity struct {
	HeaderValid bool
	Checksum    tagsum.Result
}

// Confidence derives the overall grade.
func (i Integrity) Confidence() Confidence {
	if i.HeaderValid && i.Checksum.Match() {
		return High
	}
	return Low
}

// Decoded is the full result of decoding a tag image.
type Decoded struct {
	Record      spool.Record
	Header      Header
	Integrity   Integrity
	Corrections []spool.Correction
	// Trailing counts bytes after the layout that were ignored.
	Trailing int
}

// Decode turns a raw image into a record. See DecodeDetailed.
func (c *Codec) Decode(raw []byte) (spool.Record, error) {
	decoded, err := c.DecodeDetailed(raw)
	if err != nil {
		return spool.Record{}, err
	}
	return decoded.Record, nil
}

// DecodeDetailed turns a raw image into a record and reports the
// header, integrity, and field corrections. raw is not modified or
// retained. Bytes beyond taglayout.Size are ignored.
func (c *Codec) DecodeDetailed(raw []byte) (*Decoded, error) {
	if raw == nil {
		return nil, Errorf(ErrNilPayload, "no payload")
	}
	if len(raw) < taglayout.Size {
		return nil, Errorf(ErrPayloadTooShort, "payload too short: %d bytes, need %d", len(raw), taglayout.Size)
	}

	onTag := raw[:taglayout.Size]
	trailing := len(raw) - taglayout.Size
	if trailing > 0 {
		c.logger.Debug("ignoring bytes after tag image", "bytes", trailing)
	}

	header := readHeader(onTag)
	if !header.MagicValid() {
		c.logger.Warn("tag header magic mismatch, decoding with low confidence",
			"magic", hex.EncodeToString(header.Magic[:]),
			"expected", hex.EncodeToString(taglayout.Magic[:]),
		)
	}

	image := bytes.Clone(onTag)
	for _, section := range taglayout.Masked() {
		span := taglayout.MustOffset(section)
		c.mask.Apply(image[span.Start:span.End()], span.Start)
	}

	sum := tagsum.Check(image)
	if !sum.Match() {
		// Damage and a wrong key look the same here.
		if c.strict {
			return nil, Errorf(ErrChecksumMismatch, "checksum mismatch: stored %08x, computed %08x", sum.Stored, sum.Computed)
		}
		c.logger.Warn("tag checksum mismatch, decoding best effort",
			"stored", fmt.Sprintf("%08x", sum.Stored),
			"computed", fmt.Sprintf("%08x", sum.Computed),
		)
	}

	record, corrections := c.validator.Mapping(readFields(image))
	spool.LogCorrections(c.logger, corrections)

	return &Decoded{
		Record:      record,
		Header:      header,
		Integrity:   Integrity{HeaderValid: header.MagicValid(), Checksum: sum},
		Corrections: corrections,
		Trailing:    trailing,
	}, nil
}

func readHeader(image []byte) Header {
	var header Header
	copy(header.Magic[:], image[:4])
	header.Version = image[taglayout.MustOffset(taglayout.Version).Start]
	flags := taglayout.MustOffset(taglayout.Flags)
	for index := range flags.Length {
		header.Flags |= uint32(image[flags.Start+index]) << (8 * index)
	}
	return header
}

// readFields extracts raw field values from an unmasked image, keyed
// like spool.Record's mapping form.
func readFields(image []byte) map[string]any {
	at := func(section taglayout.Section) []byte {
		span := taglayout.MustOffset(section)
		return image[span.Start:span.End()]
	}
	float := func(section taglayout.Section) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(at(section))))
	}
	text := func(section taglayout.Section) string {
		slot := at(section)
		if end := bytes.IndexByte(slot, 0); end >= 0 {
			slot = slot[:end]
		}
		return string(slot)
	}

	values := map[string]any{
		spool.FieldName.Key():            text(taglayout.Name),
		spool.FieldManufacturer.Key():    text(taglayout.Manufacturer),
		spool.FieldDensity.Key():         float(taglayout.Density),
		spool.FieldDiameter.Key():        float(taglayout.Diameter),
		spool.FieldNozzleTemp.Key():      int(binary.LittleEndian.Uint16(at(taglayout.NozzleTemp))),
		spool.FieldBedTemp.Key():         int(binary.LittleEndian.Uint16(at(taglayout.BedTemp))),
		spool.FieldRemainingLength.Key(): float(taglayout.RemainingLength),
		spool.FieldRemainingWeight.Key(): float(taglayout.RemainingWeight),
		spool.FieldSerial.Key():          text(taglayout.Serial),
		spool.FieldManufactureDate.Key(): int64(binary.LittleEndian.Uint32(at(taglayout.ManufactureDate))),
	}

	code := binary.LittleEndian.Uint16(at(taglayout.TypeCode))
	if kind, ok := spool.KindForCode(code); ok {
		values[spool.FieldType.Key()] = kind
	} else {
		values[spool.FieldType.Key()] = code
	}

	rgb := at(taglayout.Color)
	values[spool.FieldColor.Key()] = fmt.Sprintf("#%02X%02X%02X", rgb[0], rgb[1], rgb[2])
	return values
}
