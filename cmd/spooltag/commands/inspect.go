// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/hex"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/payload"
	"github.com/bureau-foundation/spooltag/lib/spool"
	"github.com/bureau-foundation/spooltag/lib/tagcodec"
	"github.com/bureau-foundation/spooltag/lib/tagkey"
	"github.com/bureau-foundation/spooltag/lib/taglayout"
)

// lowConfidenceExit is inspect's exit code for an image whose header
// or checksum does not verify.
const lowConfidenceExit = 2

type inspectParams struct {
	globalParams
	cli.JSONOutput
	UID  string `json:"uid"  flag:"uid"  desc:"tag UID in hex; unmask with the key derived for this tag"`
	Dump bool   `json:"dump" flag:"dump" desc:"append a hex dump of the raw image"`
}

func (s *streams) inspectCommand() *cli.Command {
	var params inspectParams
	return &cli.Command{
		Name:    "inspect",
		Summary: "Show the structure and integrity of a tag image",
		Description: `Show how a tag image decodes: its header, checksum, section layout,
and every field correction the validator applied.

The input must be a binary tag image or a hex dump of one. The exit
status is 0 when the header and checksum verify, 2 when the image
decoded with low confidence, and 1 on errors.`,
		Usage: "spooltag inspect [flags] [path|-]",
		Examples: []cli.Example{
			{Description: "Check a dump before writing it to a tag", Command: "spooltag inspect tag.bin && nfc-write tag.bin"},
			{Description: "Show the raw bytes too", Command: "spooltag inspect --dump tag.bin"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("inspect", &params) },
		Run: func(args []string) error {
			return s.runInspect(params, args)
		},
	}
}

type inspectReport struct {
	recordReport
	Magic       string        `json:"magic"`
	HeaderValid bool          `json:"header_valid"`
	Version     uint8         `json:"version"`
	Flags       string        `json:"flags"`
	Checksum    checksumState `json:"checksum"`
	Trailing    int           `json:"trailing_bytes"`
	Sections    []sectionSpan `json:"sections"`
}

type checksumState struct {
	Stored   string `json:"stored"`
	Computed string `json:"computed"`
	Match    bool   `json:"match"`
}

type sectionSpan struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Masked bool   `json:"masked"`
}

var fieldSections = []taglayout.Section{
	taglayout.Version, taglayout.Flags,
	taglayout.TypeCode, taglayout.Color, taglayout.Diameter, taglayout.NozzleTemp,
	taglayout.BedTemp, taglayout.Density, taglayout.RemainingLength,
	taglayout.RemainingWeight, taglayout.Manufacturer, taglayout.Name,
	taglayout.Serial, taglayout.ManufactureDate,
}

// layoutSpans lists each coarse section followed by its fields.
func layoutSpans() []sectionSpan {
	masked := taglayout.Masked()
	var spans []sectionSpan
	for _, coarse := range taglayout.Coarse() {
		span := taglayout.MustOffset(coarse)
		spans = append(spans, sectionSpan{
			Name:   coarse.String(),
			Start:  span.Start,
			End:    span.End(),
			Masked: slices.Contains(masked, coarse),
		})
		for _, field := range fieldSections {
			if field.Parent() != coarse {
				continue
			}
			fieldSpan := taglayout.MustOffset(field)
			spans = append(spans, sectionSpan{
				Name:   field.String(),
				Parent: coarse.String(),
				Start:  fieldSpan.Start,
				End:    fieldSpan.End(),
				Masked: slices.Contains(masked, coarse),
			})
		}
	}
	return spans
}

func (s *streams) runInspect(params inspectParams, args []string) error {
	uid, err := parseUID(params.UID)
	if err != nil {
		return err
	}
	data, source, err := s.readSource(args)
	if err != nil {
		return err
	}
	input, err := interpret(data, "auto")
	if err != nil {
		return err
	}

	current, err := s.open(params.globalParams, "inspect")
	if err != nil {
		return err
	}
	defer current.Close()

	decoder, err := current.decoder(codecOptions{uid: uid})
	if err != nil {
		return err
	}
	result, err := decoder.DecodeDetailed(input)
	if err != nil {
		return cli.Validation("decoding %s: %w", source, err)
	}
	if result.Tag == nil {
		return cli.Validation("%s is %s input, not a tag image", source, result.Format)
	}
	recordPart, err := decodeReport(source, result)
	if err != nil {
		return cli.Internal("%w", err)
	}
	tag := result.Tag
	report := inspectReport{
		recordReport: recordPart,
		Magic:        hex.EncodeToString(tag.Header.Magic[:]),
		HeaderValid:  tag.Integrity.HeaderValid,
		Version:      tag.Header.Version,
		Flags:        fmt.Sprintf("0x%06X", tag.Header.Flags),
		Checksum: checksumState{
			Stored:   fmt.Sprintf("0x%08X", tag.Integrity.Checksum.Stored),
			Computed: fmt.Sprintf("0x%08X", tag.Integrity.Checksum.Computed),
			Match:    tag.Integrity.Checksum.Match(),
		},
		Trailing: tag.Trailing,
		Sections: layoutSpans(),
	}

	if done, err := params.EmitJSON(s.stdout, report); done {
		if err != nil {
			return err
		}
		return inspectExit(report)
	}

	out := tabwriter.NewWriter(s.stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintf(out, "Source\t%s\n", source)
	fmt.Fprintf(out, "Magic\t%s\t%s\n", report.Magic, verdict(report.HeaderValid))
	fmt.Fprintf(out, "Version\t%d\n", report.Version)
	fmt.Fprintf(out, "Flags\t%s\n", report.Flags)
	fmt.Fprintf(out, "Checksum\tstored %s, computed %s\t%s\n", report.Checksum.Stored, report.Checksum.Computed, verdict(report.Checksum.Match))
	fmt.Fprintf(out, "Confidence\t%s\n", report.Confidence)
	if report.Trailing > 0 {
		fmt.Fprintf(out, "Trailing\t%s ignored\n", plural(report.Trailing, "byte"))
	}
	fmt.Fprintf(out, "Fingerprint\t%s\n", report.Fingerprint)
	out.Flush()

	fmt.Fprintf(s.stdout, "\nLayout:\n")
	out = tabwriter.NewWriter(s.stdout, 2, 0, 2, ' ', 0)
	for _, section := range report.Sections {
		name := section.Name
		if section.Parent != "" {
			name = "  " + name
		}
		masking := ""
		if section.Masked && section.Parent == "" {
			masking = "masked"
		}
		fmt.Fprintf(out, "  %s\t[%d,%d)\t%s\n", name, section.Start, section.End, masking)
	}
	out.Flush()

	fmt.Fprintf(s.stdout, "\nRecord:\n")
	out = tabwriter.NewWriter(s.stdout, 2, 0, 2, ' ', 0)
	for _, field := range spool.Fields() {
		fmt.Fprintf(out, "  %s\t%v\n", field.Key(), report.Record.Get(field))
	}
	out.Flush()

	if len(report.Corrections) > 0 {
		fmt.Fprintf(s.stdout, "\nCorrections:\n")
		for _, correction := range report.Corrections {
			fmt.Fprintf(s.stdout, "  %s %s (raw %q) → %v\n", correction.Field, correction.Outcome, correction.Raw, correction.Value)
		}
	}
	if len(report.Hints) > 0 {
		fmt.Fprintf(s.stdout, "\nHints:\n")
		for _, hint := range report.Hints {
			fmt.Fprintf(s.stdout, "  %s %d is outside the usual %s range %s–%s\n",
				hint.Field, hint.Value, hint.Family, formatNumber(hint.Min), formatNumber(hint.Max))
		}
	}
	if params.Dump {
		raw := data
		if input.Shape() != payload.Binary {
			if decoded, err := tagkey.ParseHex(string(data)); err == nil {
				raw = decoded
			}
		}
		fmt.Fprintf(s.stdout, "\nRaw image:\n%s", hex.Dump(raw))
	}
	return inspectExit(report)
}

func inspectExit(report inspectReport) error {
	if report.Confidence != tagcodec.High.String() {
		return &cli.ExitError{Code: lowConfidenceExit}
	}
	return nil
}

func verdict(ok bool) string {
	if ok {
		return "ok"
	}
	return "MISMATCH"
}
