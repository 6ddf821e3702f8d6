// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/payload"
	"github.com/bureau-foundation/spooltag/lib/tagdump"
)

func (s *streams) dumpCommand() *cli.Command {
	return &cli.Command{
		Name:    "dump",
		Summary: "Bundle, unpack, and batch-decode captured tag payloads",
		Description: `Work with dump archives: many raw tag payloads bundled into one
compressed file for offline analysis. Each item keeps a label (its
source file name) and, when known, the tag UID.`,
		Subcommands: []*cli.Command{
			s.dumpPackCommand(),
			s.dumpUnpackCommand(),
			s.dumpDecodeCommand(),
		},
	}
}

type dumpPackParams struct {
	globalParams
	Out         string `json:"out"         flag:"out,o"       desc:"archive path (required)"`
	Compression string `json:"compression" flag:"compression" desc:"none, lz4, or zstd (default dump.compression)"`
	UID         string `json:"uid"         flag:"uid"         desc:"tag UID in hex recorded for every item"`
}

func (s *streams) dumpPackCommand() *cli.Command {
	var params dumpPackParams
	return &cli.Command{
		Name:    "pack",
		Summary: "Bundle payload files into an archive",
		Description: `Bundle payload files into one archive. Files that could never
decode (too short for a tag image and carrying no embedded record) are
still archived, and each one is named in a warning.`,
		Usage: "spooltag dump pack -o ARCHIVE FILE...",
		Examples: []cli.Example{
			{Description: "Archive a session's captures", Command: "spooltag dump pack -o session.stdp captures/*.bin"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("pack", &params) },
		Run: func(args []string) error {
			if params.Out == "" {
				return cli.Validation("--out is required")
			}
			if len(args) == 0 {
				return cli.Validation("expected at least one payload file")
			}
			uid, err := parseUID(params.UID)
			if err != nil {
				return err
			}
			current, err := s.open(params.globalParams, "dump/pack")
			if err != nil {
				return err
			}
			defer current.Close()

			name := params.Compression
			if name == "" {
				name = current.config.Dump.Compression
			}
			compression, err := tagdump.ParseCompression(name)
			if err != nil {
				return cli.Validation("--compression: %w", err)
			}

			items := make([]tagdump.Item, 0, len(args))
			var implausible []string
			for _, path := range args {
				data, err := os.ReadFile(path)
				if errors.Is(err, fs.ErrNotExist) {
					return cli.NotFound("payload %s does not exist", path)
				}
				if err != nil {
					return cli.Internal("reading %s: %w", path, err)
				}
				label := filepath.Base(path)
				if !payload.Plausible(payload.Bytes(data)) {
					implausible = append(implausible, label)
					current.logger.Warn("payload cannot decode", "path", path, "bytes", len(data))
				}
				items = append(items, tagdump.Item{Label: label, UID: uid, Data: data})
			}

			var archive bytes.Buffer
			used, err := tagdump.Write(&archive, items, compression)
			if err != nil {
				return cli.Validation("%w", err)
			}
			if err := s.writeOutput(params.Out, archive.Bytes()); err != nil {
				return err
			}
			current.logger.Info("archive written",
				"path", params.Out,
				"items", len(items),
				"compression", used.String(),
				"bytes", archive.Len(),
			)
			if used != compression {
				fmt.Fprintf(s.stderr, "payloads did not compress with %s; stored uncompressed\n", compression)
			}
			for _, label := range implausible {
				fmt.Fprintf(s.stderr, "warning: %s is neither a tag image nor an embedded record; archived anyway\n", label)
			}
			return nil
		},
	}
}

type dumpUnpackParams struct {
	Dir string `json:"dir" flag:"dir,d" desc:"directory to write items into (created if missing)" default:"."`
}

func (s *streams) dumpUnpackCommand() *cli.Command {
	var params dumpUnpackParams
	return &cli.Command{
		Name:    "unpack",
		Summary: "Extract the payloads in an archive",
		Description: `Write every item of an archive to its own file in --dir, named by its
label. Items whose labels collide are prefixed with their index.`,
		Usage: "spooltag dump unpack [-d DIR] [ARCHIVE|-]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("unpack", &params) },
		Run: func(args []string) error {
			_, items, err := s.readArchive(args)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(params.Dir, 0o755); err != nil {
				return cli.Internal("creating %s: %w", params.Dir, err)
			}
			used := make(map[string]bool, len(items))
			for index, item := range items {
				name := itemFileName(index, item.Label)
				if used[name] {
					name = fmt.Sprintf("%03d-%s", index, name)
				}
				used[name] = true
				path := filepath.Join(params.Dir, name)
				if err := os.WriteFile(path, item.Data, 0o644); err != nil {
					return cli.Internal("writing %s: %w", path, err)
				}
				fmt.Fprintln(s.stdout, path)
			}
			return nil
		},
	}
}

// itemFileName turns an item label into a file name that stays inside
// the output directory.
func itemFileName(index int, label string) string {
	name := filepath.Base(filepath.Clean("/" + label))
	if name == "/" || name == "." || name == "" {
		return fmt.Sprintf("item-%03d.bin", index)
	}
	return name
}

type dumpDecodeParams struct {
	globalParams
	cli.JSONOutput
	Workers int `json:"workers" flag:"workers,w" desc:"parallel decoders (default dump.workers, 0 for every CPU)" default:"-1"`
}

type itemReport struct {
	Index int           `json:"index"`
	Label string        `json:"label"`
	UID   string        `json:"uid,omitempty"`
	Error string        `json:"error,omitempty"`
	Tag   *recordReport `json:"record,omitempty"`
}

type archiveReport struct {
	Compression string       `json:"compression"`
	Count       int          `json:"count"`
	Failed      int          `json:"failed"`
	Items       []itemReport `json:"items"`
}

func (s *streams) dumpDecodeCommand() *cli.Command {
	var params dumpDecodeParams
	return &cli.Command{
		Name:    "decode",
		Summary: "Decode every payload in an archive",
		Description: `Decode every item of an archive in parallel and print one line per
item. The exit status is 1 when any item failed to decode.`,
		Usage: "spooltag dump decode [flags] [ARCHIVE|-]",
		Examples: []cli.Example{
			{Description: "Summarize an archive", Command: "spooltag dump decode session.stdp"},
			{Description: "Full reports for scripting", Command: "spooltag dump decode --json session.stdp | jq '.items[] | select(.error)'"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("decode", &params) },
		Run: func(args []string) error {
			header, items, err := s.readArchive(args)
			if err != nil {
				return err
			}
			current, err := s.open(params.globalParams, "dump/decode")
			if err != nil {
				return err
			}
			defer current.Close()

			decoder, err := current.decoder(codecOptions{})
			if err != nil {
				return err
			}
			workers := params.Workers
			if workers < 0 {
				workers = current.config.Dump.Workers
			}
			outcomes := tagdump.DecodeAll(context.Background(), decoder, items, workers)

			report := archiveReport{
				Compression: header.Compression.String(),
				Count:       len(outcomes),
				Items:       make([]itemReport, 0, len(outcomes)),
			}
			for _, outcome := range outcomes {
				entry := itemReport{
					Index: outcome.Index,
					Label: outcome.Item.Label,
					UID:   hex.EncodeToString(outcome.Item.UID),
				}
				if outcome.Err != nil {
					entry.Error = outcome.Err.Error()
					report.Failed++
				} else {
					decoded, err := decodeReport(outcome.Item.Label, outcome.Result)
					if err != nil {
						return cli.Internal("%w", err)
					}
					entry.Tag = &decoded
				}
				report.Items = append(report.Items, entry)
			}
			current.logger.Debug("archive decoded", "items", report.Count, "failed", report.Failed, "workers", workers)

			if done, err := params.EmitJSON(s.stdout, report); done {
				if err != nil {
					return err
				}
				return archiveExit(report)
			}
			out := tabwriter.NewWriter(s.stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(out, "#\tLABEL\tFORMAT\tCONFIDENCE\tTYPE\tNAME\tCORRECTIONS\n")
			for _, entry := range report.Items {
				if entry.Tag == nil {
					fmt.Fprintf(out, "%d\t%s\terror\t-\t-\t%s\t-\n", entry.Index, entry.Label, entry.Error)
					continue
				}
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n",
					entry.Index, entry.Label, entry.Tag.Format, orDash(entry.Tag.Confidence),
					entry.Tag.Record.Type, entry.Tag.Record.Name, len(entry.Tag.Corrections))
			}
			if err := out.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(s.stdout, "\n%s decoded, %d failed (%s)\n",
				plural(report.Count-report.Failed, "item"), report.Failed, report.Compression)
			return archiveExit(report)
		},
	}
}

func archiveExit(report archiveReport) error {
	if report.Failed > 0 {
		return &cli.ExitError{Code: 1}
	}
	return nil
}

// readArchive reads the archive named by the optional positional
// argument, or stdin.
func (s *streams) readArchive(args []string) (tagdump.Header, []tagdump.Item, error) {
	if len(args) > 1 {
		return tagdump.Header{}, nil, cli.Validation("expected at most one archive, got %d arguments", len(args))
	}
	var (
		reader io.Reader = s.stdin
		label            = "stdin"
	)
	if len(args) == 1 && args[0] != "-" {
		file, err := os.Open(args[0])
		if errors.Is(err, fs.ErrNotExist) {
			return tagdump.Header{}, nil, cli.NotFound("archive %s does not exist", args[0])
		}
		if err != nil {
			return tagdump.Header{}, nil, cli.Internal("opening %s: %w", args[0], err)
		}
		defer file.Close()
		reader, label = file, args[0]
	}
	header, items, err := tagdump.Read(reader)
	if err != nil {
		if errors.Is(err, tagdump.ErrCorrupt) {
			return tagdump.Header{}, nil, cli.Validation("%s: %w", label, err)
		}
		return tagdump.Header{}, nil, cli.Internal("reading %s: %w", label, err)
	}
	return header, items, nil
}
