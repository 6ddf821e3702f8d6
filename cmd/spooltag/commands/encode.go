// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/payload"
	"github.com/bureau-foundation/spooltag/lib/scanlog"
	"github.com/bureau-foundation/spooltag/lib/tagcodec"
)

type encodeParams struct {
	globalParams
	inputParams
	cli.JSONOutput
	Out   string `json:"out"   flag:"out,o" desc:"write the image to this path instead of stdout"`
	Hex   bool   `json:"hex"   flag:"hex"   desc:"write the image as hex text"`
	UID   string `json:"uid"   flag:"uid"   desc:"tag UID in hex; encode with the key derived for this tag"`
	Flags uint   `json:"flags" flag:"flags" desc:"24-bit header flags (decimal or 0x hex)"`
}

func (s *streams) encodeCommand() *cli.Command {
	var params encodeParams
	return &cli.Command{
		Name:    "encode",
		Summary: "Encode a record into a 516-byte tag image",
		Description: `Encode a spool record into a masked, checksummed tag image.

The record is read from a file or stdin as JSON, JSONC, YAML (--input
yaml), or a CBOR snapshot (--input cbor). An existing tag image or hex
dump is also accepted and re-encoded, which rewrites it under the
current key and version. Every field is validated first; corrections
are logged and listed with --json.

Known kinds: ` + kindNames() + `.`,
		Usage: "spooltag encode [flags] [path|-]",
		Examples: []cli.Example{
			{Description: "Encode a JSON record", Command: `echo '{"name":"Galaxy Black","type":"PETG","nozzle_temp":245}' | spooltag encode -o tag.bin`},
			{Description: "Encode YAML for a specific tag", Command: "spooltag encode --input yaml --uid 04A22B1C5E80 spool.yaml --hex"},
			{Description: "Re-key an existing dump", Command: "SPOOLTAG_MASK_KEY=... spooltag encode old.bin -o new.bin"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("encode", &params) },
		Run: func(args []string) error {
			return s.runEncode(params, args)
		},
	}
}

// encodeResult is the --json report of an encode.
type encodeResult struct {
	recordReport
	Image string `json:"image"`
	Bytes int    `json:"bytes"`
}

func (s *streams) runEncode(params encodeParams, args []string) error {
	if params.Flags > tagcodec.MaxFlags {
		return cli.Validation("--flags 0x%X does not fit in 24 bits", params.Flags)
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

	current, err := s.open(params.globalParams, "encode")
	if err != nil {
		return err
	}
	defer current.Close()

	codec, err := current.codec(codecOptions{uid: uid})
	if err != nil {
		return err
	}
	result, err := payload.NewDecoder(codec, current.logger).DecodeDetailed(input)
	if err != nil {
		return cli.Validation("reading record from %s: %w", source, err)
	}
	packed, err := codec.Pack(result.Record, uint32(params.Flags))
	if err != nil {
		return cli.Internal("encoding: %w", err)
	}

	corrections := slices.Concat(result.Corrections, packed.Corrections)
	report, err := newRecordReport(source, packed.Record, corrections)
	if err != nil {
		return cli.Internal("%w", err)
	}
	record := packed.Record
	current.record(scanlog.Entry{
		Operation:   scanlog.OperationWrite,
		Source:      source,
		UID:         uid,
		Format:      "image",
		Confidence:  tagcodec.High.String(),
		Fingerprint: report.Fingerprint,
		Corrections: len(corrections),
		Record:      &record,
	})
	current.logger.Info("record encoded",
		"name", record.Name,
		"type", string(record.Type),
		"corrections", len(corrections),
		"fingerprint", report.Fingerprint,
	)

	image := packed.Image
	if params.Hex {
		image = []byte(hex.EncodeToString(packed.Image) + "\n")
	}
	if params.OutputJSON {
		if params.Out != "" {
			if err := s.writeOutput(params.Out, image); err != nil {
				return err
			}
		}
		return cli.WriteJSON(s.stdout, encodeResult{
			recordReport: report,
			Image:        hex.EncodeToString(packed.Image),
			Bytes:        len(packed.Image),
		})
	}
	if params.Out == "" && !params.Hex && cli.IsTerminal(s.stdout) {
		return cli.Validation("refusing to write a binary image to a terminal; use --out or --hex")
	}
	if err := s.writeOutput(params.Out, image); err != nil {
		return err
	}
	if params.Out != "" && params.Out != "-" {
		fmt.Fprintf(s.stderr, "wrote %d bytes to %s (%s)\n", len(packed.Image), params.Out, plural(len(corrections), "correction"))
	}
	return nil
}
