// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/payload"
	"github.com/bureau-foundation/spooltag/lib/tagdevice"
	"github.com/bureau-foundation/spooltag/lib/taglayout"
)

type simulateParams struct {
	globalParams
	inputParams
	cli.JSONOutput
	Write       string        `json:"write"        flag:"write,w"      desc:"program the simulated tag with the record in this file first"`
	UID         string        `json:"uid"          flag:"uid"          desc:"UID of the simulated tag in hex; also selects the per-tag key"`
	ArriveAfter time.Duration `json:"arrive_after" flag:"arrive-after" desc:"place the tag in the field after this delay"`
	Timeout     time.Duration `json:"timeout"      flag:"timeout"      desc:"give up when no tag arrives in time" default:"10s"`
	Color       string        `json:"color"        flag:"color"        desc:"card colour: auto, always, or never" default:"auto"`
}

type simulateReport struct {
	recordReport
	Reader  string `json:"reader"`
	UID     string `json:"uid"`
	Written bool   `json:"written"`
	Image   string `json:"image,omitempty"`
}

func (s *streams) simulateCommand() *cli.Command {
	var params simulateParams
	return &cli.Command{
		Name:    "simulate",
		Summary: "Read (or program and read back) a simulated tag",
		Description: `Run a scan against an in-process reader instead of hardware.

Without --write the simulated tag holds a short reader payload that
embeds a JSON spool description, the shape some readers return when
they cannot read the full tag memory. With --write the record in the
given file is validated, encoded, written to an empty simulated tag,
verified by reading it back, and then scanned like a real tag.

Reads and writes are journaled under reader.name when the journal is
enabled, like a hardware reader's.`,
		Usage: "spooltag simulate [flags]",
		Examples: []cli.Example{
			{Description: "Scan the built-in simulated tag", Command: "spooltag simulate"},
			{Description: "Program a record and read it back", Command: "spooltag simulate --write spool.json --json"},
			{Description: "Exercise scan polling", Command: "spooltag simulate --arrive-after 1s"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("simulate", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Validation("simulate takes no arguments; use --write to program a record")
			}
			return s.runSimulate(params)
		},
	}
}

func (s *streams) runSimulate(params simulateParams) error {
	if params.Timeout <= 0 {
		return cli.Validation("--timeout must be positive")
	}
	uid, err := parseUID(params.UID)
	if err != nil {
		return err
	}
	var input payload.Input
	if params.Write != "" {
		data, _, err := s.readSource([]string{params.Write})
		if err != nil {
			return err
		}
		if input, err = interpret(data, params.Input); err != nil {
			return err
		}
	}

	current, err := s.open(params.globalParams, "simulate")
	if err != nil {
		return err
	}
	defer current.Close()

	codec, err := current.codec(codecOptions{uid: uid})
	if err != nil {
		return err
	}
	pollInterval, err := current.config.PollInterval()
	if err != nil {
		return cli.Validation("%w", err)
	}

	tagUID := uid
	if len(tagUID) == 0 {
		tagUID = tagdevice.SimulatedUID
	}
	var memory *tagdevice.Memory
	if params.Write != "" {
		memory = tagdevice.NewMemory(taglayout.Size)
		memory.Place(tagUID, make([]byte, taglayout.Size))
	} else {
		memory = tagdevice.NewMemory(0)
		memory.Place(tagUID, tagdevice.Simulated())
	}

	deviceConfig := tagdevice.Config{
		Name:         current.config.Reader.Name,
		Transport:    memory,
		Codec:        codec,
		PollInterval: pollInterval,
		Logger:       current.logger,
	}
	journal, err := current.openJournal()
	if err != nil {
		current.logger.Warn("scan journal unavailable", "error", err)
	} else if journal != nil {
		deviceConfig.Journal = journal
	}
	device, err := tagdevice.New(deviceConfig)
	if err != nil {
		return cli.Internal("%w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	report := simulateReport{Reader: current.config.Reader.Name, UID: hex.EncodeToString(tagUID)}
	if params.Write != "" {
		record, err := payload.NewDecoder(codec, current.logger).Decode(input)
		if err != nil {
			return cli.Validation("reading record from %s: %w", params.Write, err)
		}
		packed, err := device.Write(ctx, record)
		if err != nil {
			return cli.Internal("programming simulated tag: %w", err)
		}
		report.Written = true
		report.Image = hex.EncodeToString(packed.Image)
	}

	contents := memory.Contents()
	if params.ArriveAfter > 0 {
		memory.Remove()
		timer := time.AfterFunc(params.ArriveAfter, func() { memory.Place(tagUID, contents) })
		defer timer.Stop()
		current.logger.Info("waiting for tag", "reader", report.Reader, "arrive_after", params.ArriveAfter)
	}

	result, err := device.Scan(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return cli.NotFound("no tag arrived within %s", params.Timeout)
	}
	if err != nil {
		return cli.Validation("reading simulated tag: %w", err)
	}
	recordPart, err := decodeReport(current.config.Reader.Name, result)
	if err != nil {
		return cli.Internal("%w", err)
	}
	report.recordReport = recordPart

	if done, err := params.EmitJSON(s.stdout, report); done {
		return err
	}
	renderer, err := newRenderer(s.stdout, params.Color)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.stdout, "%s read tag %s (%d reads)\n", report.Reader, report.UID, memory.Reads())
	_, err = s.stdout.Write([]byte(renderCard(renderer, report.recordReport, cli.TerminalWidth(s.stdout, cardWidth))))
	return err
}
