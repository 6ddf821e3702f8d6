// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/scanlog"
)

type historyParams struct {
	globalParams
	cli.JSONOutput
	Limit       int    `json:"limit"       flag:"limit,n"     desc:"show at most this many entries (0 for all)" default:"20"`
	Fingerprint string `json:"fingerprint" flag:"fingerprint" desc:"show every scan of one record, oldest first"`
}

func (s *streams) historyCommand() *cli.Command {
	var params historyParams
	return &cli.Command{
		Name:    "history",
		Summary: "Show the scan journal",
		Description: `List recent entries of the scan journal: every decode, encode, and
simulated reader operation, with the record fingerprint and the
number of corrections. The journal is kept only when journal.enabled
is set in the configuration.

With --fingerprint, list every operation on records with identical
content, which follows one spool across re-reads and rewrites.`,
		Examples: []cli.Example{
			{Description: "Last ten scans", Command: "spooltag history -n 10"},
			{Description: "Every scan of one spool", Command: "spooltag history --fingerprint 3f9a..."},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("history", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Validation("history takes no arguments")
			}
			current, err := s.open(params.globalParams, "history")
			if err != nil {
				return err
			}
			defer current.Close()

			journal, err := current.openJournal()
			if err != nil {
				return err
			}
			if journal == nil {
				return cli.Validation("the scan journal is disabled; set journal.enabled in the configuration")
			}

			ctx := context.Background()
			var entries []scanlog.Entry
			if params.Fingerprint != "" {
				entries, err = journal.ByFingerprint(ctx, params.Fingerprint)
			} else {
				entries, err = journal.Recent(ctx, params.Limit)
			}
			if err != nil {
				return cli.Internal("%w", err)
			}
			if done, err := params.EmitJSON(s.stdout, entries); done {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(s.stdout, "no scans recorded")
				return nil
			}
			out := tabwriter.NewWriter(s.stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(out, "TIME\tOPERATION\tSOURCE\tUID\tRESULT\n")
			for _, entry := range entries {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n",
					entry.Time.Local().Format(time.DateTime),
					entry.Operation,
					orDash(entry.Source),
					orDash(hex.EncodeToString(entry.UID)),
					entryResult(entry))
			}
			return out.Flush()
		},
	}
}

// entryResult summarizes what an operation produced.
func entryResult(entry scanlog.Entry) string {
	if entry.Error != "" {
		return "error: " + entry.Error
	}
	if entry.Record == nil {
		return "-"
	}
	summary := fmt.Sprintf("%s %q", entry.Record.Type, entry.Record.Name)
	if entry.Confidence != "" {
		summary += ", " + entry.Confidence + " confidence"
	}
	if entry.Corrections > 0 {
		summary += ", " + plural(entry.Corrections, "correction")
	}
	return summary
}
