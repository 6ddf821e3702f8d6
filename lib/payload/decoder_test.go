// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"bytes"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/bureau-foundation/spooltag/lib/spool"
	"github.com/bureau-foundation/spooltag/lib/tagcodec"
	"github.com/bureau-foundation/spooltag/lib/tagkey"
	"github.com/bureau-foundation/spooltag/lib/taglayout"
)

const simulatedJSON = `{"name":"Bambu PLA","type":"PLA","color":"#FF0000","manufacturer":"Bambulab","density":1.24,"diameter":1.75,"nozzle_temp":210,"bed_temp":60,"remaining_length":240,"remaining_weight":1000}`

func newTestDecoder(t *testing.T, logger *slog.Logger) (*Decoder, *tagcodec.Codec) {
	t.Helper()
	provider, err := tagkey.Resolve([]byte("payload test key"), tagkey.Options{})
	if err != nil {
		t.Fatalf("tagkey.Resolve: %v", err)
	}
	t.Cleanup(func() { provider.Close() })
	codec, err := tagcodec.New(provider, spool.NewValidator(spool.StandardLimits()), tagcodec.Options{Logger: logger})
	if err != nil {
		t.Fatalf("tagcodec.New: %v", err)
	}
	return NewDecoder(codec, logger), codec
}

func simulatedRecord() spool.Record {
	record := spool.Default()
	record.Name = "Bambu PLA"
	record.Color = "#FF0000"
	record.Manufacturer = "Bambulab"
	record.NozzleTemp = 210
	record.RemainingLength = 240
	record.RemainingWeight = 1000
	return record
}

func TestDecodeEmbeddedShortPayload(t *testing.T) {
	decoder, _ := newTestDecoder(t, nil)

	raw := append([]byte{0x01, 0x02, 0x03, 0x04}, simulatedJSON...)
	raw = append(raw, 0xFF, 0xFE, 0xFD, 0xFC)
	if len(raw) != 195 {
		t.Fatalf("simulated payload is %d bytes, want 195", len(raw))
	}

	result, err := decoder.DecodeDetailed(Bytes(raw))
	if err != nil {
		t.Fatalf("DecodeDetailed: %v", err)
	}
	if result.Format != FormatEmbedded {
		t.Errorf("Format = %v, want embedded", result.Format)
	}
	if result.Tag != nil {
		t.Error("Tag is set for an embedded payload")
	}
	if want := simulatedRecord(); result.Record != want {
		t.Errorf("record = %+v\nwant     %+v", result.Record, want)
	}
}

func TestDecodeAbsent(t *testing.T) {
	decoder, _ := newTestDecoder(t, nil)
	for _, input := range []Input{{}, Bytes(nil), Mapping(nil)} {
		_, err := decoder.Decode(input)
		if !errors.Is(err, tagcodec.ErrNilPayload) {
			t.Errorf("Decode(%v) error = %v, want ErrNilPayload", input.Shape(), err)
		}
		var decodingError *tagcodec.DecodingError
		if !errors.As(err, &decodingError) {
			t.Errorf("Decode(%v) error %T is not a *DecodingError", input.Shape(), err)
		}
	}
}

func TestDecodeShortBinary(t *testing.T) {
	decoder, _ := newTestDecoder(t, nil)
	for _, raw := range [][]byte{{}, {0xAA, 0x55}, bytes.Repeat([]byte{0x7B}, 100), make([]byte, taglayout.Size-1)} {
		_, err := decoder.Decode(Bytes(raw))
		if !errors.Is(err, tagcodec.ErrPayloadTooShort) {
			t.Errorf("Decode(%d bytes) error = %v, want ErrPayloadTooShort", len(raw), err)
		}
	}
}

func TestDecodeMapping(t *testing.T) {
	decoder, _ := newTestDecoder(t, nil)

	record, err := decoder.Decode(Mapping(map[string]any{"name": "Test", "nozzle_temp": "not_a_number"}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if record.Name != "Test" {
		t.Errorf("Name = %q, want Test", record.Name)
	}
	if record.NozzleTemp != spool.DefaultNozzleTemp {
		t.Errorf("NozzleTemp = %d, want default %d", record.NozzleTemp, spool.DefaultNozzleTemp)
	}

	empty, err := decoder.Decode(Mapping(map[string]any{}))
	if err != nil {
		t.Fatalf("Decode(empty): %v", err)
	}
	if empty != spool.Default() {
		t.Errorf("empty mapping decoded to %+v, want defaults", empty)
	}
}

func TestDecodeNestedMapping(t *testing.T) {
	decoder, _ := newTestDecoder(t, nil)

	record, err := decoder.Decode(Mapping(map[string]any{
		"spool_data": map[string]any{
			"name":        "Nested",
			"type":        "petg",
			"nozzle_temp": 240,
		},
		"manufacturing_info": map[string]any{
			"serial": "SN-1",
			"date":   1700000000,
		},
		"nozzle_temp": 250,
	}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if record.Name != "Nested" || record.Type != spool.KindPETG {
		t.Errorf("spool_data not flattened: %+v", record)
	}
	if record.NozzleTemp != 250 {
		t.Errorf("NozzleTemp = %d, want top-level 250", record.NozzleTemp)
	}
	if record.Serial != "SN-1" || record.ManufactureDate != 1700000000 {
		t.Errorf("manufacturing_info not flattened: serial %q date %d", record.Serial, record.ManufactureDate)
	}
}

func TestDecodeText(t *testing.T) {
	decoder, codec := newTestDecoder(t, nil)

	image, err := codec.Encode(simulatedRecord())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	plainHex := hex.EncodeToString(image)

	var separated strings.Builder
	for index, b := range image {
		if index > 0 {
			separated.WriteByte(':')
		}
		separated.WriteString(strings.ToUpper(hex.EncodeToString([]byte{b})))
	}

	tests := []struct {
		name   string
		text   string
		format Format
		want   spool.Record
	}{
		{"json", simulatedJSON, FormatJSON, simulatedRecord()},
		{"jsonc", "{\n  // spool\n  \"name\": \"Commented\",\n  \"bed_temp\": 55,\n}\n", FormatJSON, func() spool.Record {
			record := spool.Default()
			record.Name = "Commented"
			record.BedTemp = 55
			return record
		}()},
		{"hex", plainHex, FormatHex, simulatedRecord()},
		{"hex with prefix", "0x" + plainHex, FormatHex, simulatedRecord()},
		{"hex with separators", separated.String(), FormatHex, simulatedRecord()},
		{"hex with whitespace", "  " + plainHex[:200] + "\n" + plainHex[200:] + "\n", FormatHex, simulatedRecord()},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result, err := decoder.DecodeDetailed(Text(test.text))
			if err != nil {
				t.Fatalf("DecodeDetailed: %v", err)
			}
			if result.Format != test.format {
				t.Errorf("Format = %v, want %v", result.Format, test.format)
			}
			if result.Record != test.want {
				t.Errorf("record = %+v\nwant     %+v", result.Record, test.want)
			}
			if test.format == FormatHex {
				if result.Tag == nil {
					t.Fatal("Tag is nil for a hex tag image")
				}
				if result.Tag.Integrity.Confidence() != tagcodec.High {
					t.Errorf("Confidence = %v, want high", result.Tag.Integrity.Confidence())
				}
			}
		})
	}
}

func TestDecodeUnrecognizedText(t *testing.T) {
	decoder, _ := newTestDecoder(t, nil)
	for _, text := range []string{"", "   ", "hello world", "abc", "[1, 2, 3]", "0xZZ", `{"name": "open"`} {
		_, err := decoder.Decode(Text(text))
		if !errors.Is(err, tagcodec.ErrUnrecognizedString) {
			t.Errorf("Decode(%q) error = %v, want ErrUnrecognizedString", text, err)
		}
	}
}

func TestDecodeShortHex(t *testing.T) {
	decoder, _ := newTestDecoder(t, nil)
	_, err := decoder.Decode(Text("aa55cc33"))
	if !errors.Is(err, tagcodec.ErrPayloadTooShort) {
		t.Errorf("error = %v, want ErrPayloadTooShort", err)
	}
}

func TestDecodeBinaryImage(t *testing.T) {
	decoder, codec := newTestDecoder(t, nil)
	image, err := codec.Encode(simulatedRecord())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	result, err := decoder.DecodeDetailed(Bytes(image))
	if err != nil {
		t.Fatalf("DecodeDetailed: %v", err)
	}
	if result.Format != FormatImage || result.Tag == nil {
		t.Errorf("Format = %v, Tag = %v; want image with tag details", result.Format, result.Tag)
	}
	if result.Record != simulatedRecord() {
		t.Errorf("record = %+v", result.Record)
	}
}

func TestDecodeLogsHints(t *testing.T) {
	var buffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buffer, nil))
	decoder, _ := newTestDecoder(t, logger)

	result, err := decoder.DecodeDetailed(Mapping(map[string]any{"type": "PLA", "nozzle_temp": 290}))
	if err != nil {
		t.Fatalf("DecodeDetailed: %v", err)
	}
	if result.Record.NozzleTemp != 290 {
		t.Errorf("hint changed the record: NozzleTemp = %d", result.Record.NozzleTemp)
	}
	if len(result.Hints) != 1 || result.Hints[0].Field != spool.FieldNozzleTemp {
		t.Fatalf("Hints = %+v, want one nozzle hint", result.Hints)
	}
	if !strings.Contains(buffer.String(), "temperature unusual for filament family") {
		t.Errorf("hint not logged:\n%s", buffer.String())
	}
}

func TestFromAny(t *testing.T) {
	record := simulatedRecord()
	tests := []struct {
		value any
		shape Shape
	}{
		{nil, Absent},
		{[]byte{1}, Binary},
		{"{}", Textual},
		{map[string]any{}, Structured},
		{record, Structured},
		{&record, Structured},
		{(*spool.Record)(nil), Absent},
		{Text("x"), Textual},
	}
	for _, test := range tests {
		input, err := FromAny(test.value)
		if err != nil {
			t.Errorf("FromAny(%T): %v", test.value, err)
			continue
		}
		if input.Shape() != test.shape {
			t.Errorf("FromAny(%T).Shape() = %v, want %v", test.value, input.Shape(), test.shape)
		}
	}

	if _, err := FromAny(42); err == nil {
		t.Error("FromAny(42) succeeded, want error")
	}
}

func TestFromAnyRecordRoundTrip(t *testing.T) {
	decoder, _ := newTestDecoder(t, nil)
	record := simulatedRecord()
	record.Serial = "SN-9"
	record.ManufactureDate = 1600000000
	input, err := FromAny(record)
	if err != nil {
		t.Fatalf("FromAny: %v", err)
	}
	decoded, err := decoder.Decode(input)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != record {
		t.Errorf("decoded = %+v\nwant      %+v", decoded, record)
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		shape Shape
	}{
		{"json", []byte("  " + simulatedJSON + "\n"), Textual},
		{"hex", []byte("aa55cc33\n"), Textual},
		{"binary magic", []byte{0xAA, 0x55, 0xCC, 0x33}, Binary},
		{"empty", []byte{}, Binary},
		{"plain words", []byte("not a payload"), Binary},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Sniff(test.data).Shape(); got != test.shape {
				t.Errorf("Sniff = %v, want %v", got, test.shape)
			}
		})
	}
}

func TestPlausible(t *testing.T) {
	simulated := append([]byte{0x01, 0x02, 0x03, 0x04}, simulatedJSON...)
	tests := []struct {
		name  string
		input Input
		want  bool
	}{
		{"absent", Input{}, false},
		{"mapping", Mapping(map[string]any{}), true},
		{"json text", Text(simulatedJSON), true},
		{"short hex", Text("aa55"), false},
		{"full image", Bytes(make([]byte, taglayout.Size)), true},
		{"embedded", Bytes(simulated), true},
		{"short binary", Bytes([]byte{1, 2, 3}), false},
		{"garbage text", Text("hello"), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Plausible(test.input); got != test.want {
				t.Errorf("Plausible = %v, want %v", got, test.want)
			}
		})
	}
}

func TestBalancedObject(t *testing.T) {
	tests := []struct {
		data   string
		length int
		ok     bool
	}{
		{`{}`, 2, true},
		{`{"a":{"b":1}} tail`, 13, true},
		{`{"brace":"}"}`, 13, true},
		{`{"escaped":"\"}"}`, 17, true},
		{`{"open":`, 0, false},
	}
	for _, test := range tests {
		length, ok := balancedObject([]byte(test.data))
		if length != test.length || ok != test.ok {
			t.Errorf("balancedObject(%q) = %d, %v; want %d, %v", test.data, length, ok, test.length, test.ok)
		}
	}
}
