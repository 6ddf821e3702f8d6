// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/codec"
	"github.com/bureau-foundation/spooltag/lib/scanlog"
)

type decodeParams struct {
	globalParams
	inputParams
	cli.JSONOutput
	Format string `json:"format" flag:"format,f" desc:"output format: card, json, cbor, diag, markdown, or html" default:"card"`
	UID    string `json:"uid"    flag:"uid"      desc:"tag UID in hex; decode with the key derived for this tag"`
	Strict bool   `json:"strict" flag:"strict"   desc:"fail on a checksum mismatch instead of warning"`
	Color  string `json:"color"  flag:"color"    desc:"card colour: auto, always, or never" default:"auto"`
}

func (s *streams) decodeCommand() *cli.Command {
	var params decodeParams
	return &cli.Command{
		Name:    "decode",
		Summary: "Decode a tag image, hex dump, or JSON record",
		Description: `Decode a spool record from a file or stdin.

The input may be a raw tag image (516 bytes, extra bytes ignored), a
hex rendering of one, a JSON or JSONC object in either the flat or the
nested spool_data/manufacturing_info shape, or a short reader payload
that embeds a JSON object. Auto detection can be overridden with
--input.

Fields that are missing or invalid are replaced with defaults and
reported as corrections; decoding only fails for input that carries no
record at all. A checksum mismatch lowers confidence but still decodes
unless --strict or codec.strict_integrity is set.

--format cbor writes a deterministic CBOR snapshot of the record that
"decode --input cbor" and "encode --input cbor" read back; --format
diag prints the same snapshot in CBOR diagnostic notation.`,
		Usage: "spooltag decode [flags] [path|-]",
		Examples: []cli.Example{
			{Description: "Show a dumped tag as a card", Command: "spooltag decode tag.bin"},
			{Description: "Decode hex from the clipboard as JSON", Command: "pbpaste | spooltag decode --json"},
			{Description: "Decode with a per-tag key", Command: "spooltag decode --uid 04:A2:2B:1C:5E:80 tag.bin"},
			{Description: "Print an HTML label", Command: "spooltag decode --format html tag.bin > label.html"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("decode", &params) },
		Run: func(args []string) error {
			return s.runDecode(params, args)
		},
	}
}

func (s *streams) runDecode(params decodeParams, args []string) error {
	if params.OutputJSON {
		params.Format = "json"
	}
	switch params.Format {
	case "card", "json", "cbor", "diag", "markdown", "html":
	default:
		return cli.Validation("--format must be card, json, cbor, diag, markdown, or html, got %q", params.Format)
	}
	uid, err := parseUID(params.UID)
	if err != nil {
		return err
	}
	data, source, err := s.readSource(args)
	if err != nil {
		return err
	}
	input, err := interpret(data, params.Input)
	if err != nil {
		return err
	}

	current, err := s.open(params.globalParams, "decode")
	if err != nil {
		return err
	}
	defer current.Close()

	decoder, err := current.decoder(codecOptions{uid: uid, strict: params.Strict})
	if err != nil {
		return err
	}
	result, err := decoder.DecodeDetailed(input)
	if err != nil {
		current.record(scanlog.Entry{Operation: scanlog.OperationDecode, Source: source, UID: uid, Error: err.Error()})
		return cli.Validation("decoding %s: %w", source, err)
	}

	report, err := decodeReport(source, result)
	if err != nil {
		return cli.Internal("%w", err)
	}
	record := result.Record
	current.record(scanlog.Entry{
		Operation:   scanlog.OperationDecode,
		Source:      source,
		UID:         uid,
		Format:      report.Format,
		Confidence:  report.Confidence,
		Fingerprint: report.Fingerprint,
		Corrections: len(result.Corrections),
		Record:      &record,
	})

	switch params.Format {
	case "json":
		return cli.WriteJSON(s.stdout, report)
	case "cbor":
		encoded, err := codec.Marshal(record)
		if err != nil {
			return cli.Internal("encoding CBOR: %w", err)
		}
		_, err = s.stdout.Write(encoded)
		return err
	case "diag":
		encoded, err := codec.Marshal(record)
		if err != nil {
			return cli.Internal("encoding CBOR: %w", err)
		}
		notation, err := codec.Diagnose(encoded)
		if err != nil {
			return cli.Internal("%w", err)
		}
		_, err = fmt.Fprintln(s.stdout, notation)
		return err
	case "markdown":
		_, err := s.stdout.Write(renderMarkdown(report))
		return err
	case "html":
		return renderHTML(s.stdout, report)
	}
	renderer, err := newRenderer(s.stdout, params.Color)
	if err != nil {
		return err
	}
	_, err = s.stdout.Write([]byte(renderCard(renderer, report, cli.TerminalWidth(s.stdout, cardWidth))))
	return err
}
