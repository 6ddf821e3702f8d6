// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/spool"
)

type kindsParams struct {
	cli.JSONOutput
}

type kindEntry struct {
	Code   uint16  `json:"code"`
	Kind   string  `json:"kind"`
	Family string  `json:"family,omitempty"`
	Nozzle *window `json:"nozzle_temp,omitempty"`
	Bed    *window `json:"bed_temp,omitempty"`
	Score  int     `json:"score,omitempty"`
}

type window struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (s *streams) kindsCommand() *cli.Command {
	var params kindsParams
	return &cli.Command{
		Name:    "kinds",
		Summary: "List filament kinds and their type codes",
		Description: `List the filament kinds a tag can store, with the type code written
to the tag and the usual temperature windows for the kind's family.

With a query, only kinds that fuzzy-match it are shown, best match
first. Kind names in records are matched ignoring case and
separators, so "pla-cf" and "PLA CF" both mean PLA-CF.`,
		Usage: "spooltag kinds [query]",
		Examples: []cli.Example{
			{Description: "Show every kind", Command: "spooltag kinds"},
			{Description: "Find carbon-fibre kinds", Command: "spooltag kinds cf"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("kinds", &params) },
		Run: func(args []string) error {
			entries := kindEntries()
			if len(args) > 0 {
				entries = matchKinds(entries, strings.Join(args, " "))
				if len(entries) == 0 {
					return cli.NotFound("no kind matches %q", strings.Join(args, " "))
				}
			}
			if done, err := params.EmitJSON(s.stdout, entries); done {
				return err
			}
			out := tabwriter.NewWriter(s.stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(out, "CODE\tKIND\tFAMILY\tNOZZLE\tBED\n")
			for _, entry := range entries {
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\n",
					entry.Code, entry.Kind, orDash(entry.Family), entry.Nozzle.String(), entry.Bed.String())
			}
			return out.Flush()
		},
	}
}

func kindEntries() []kindEntry {
	var entries []kindEntry
	for _, kind := range spool.Kinds() {
		code, _ := kind.Code()
		entry := kindEntry{Code: code, Kind: string(kind), Family: string(kind.Family())}
		if nozzle, bed, ok := spool.TemperatureProfile(kind); ok {
			entry.Nozzle = &window{Min: nozzle.Min, Max: nozzle.Max}
			entry.Bed = &window{Min: bed.Min, Max: bed.Max}
		}
		entries = append(entries, entry)
	}
	return entries
}

var initMatcher = sync.OnceValue(func() bool { return algo.Init("default") })

// matchKinds keeps the entries whose name fuzzy-matches query, ordered
// by descending score and then by type code.
func matchKinds(entries []kindEntry, query string) []kindEntry {
	pattern := []rune(strings.ToLower(strings.TrimSpace(query)))
	if len(pattern) == 0 {
		return entries
	}
	initMatcher()
	slab := util.MakeSlab(100*1024, 2048)
	var matched []kindEntry
	for _, entry := range entries {
		chars := util.ToChars([]byte(entry.Kind))
		result, _ := algo.FuzzyMatchV2(false, true, true, &chars, pattern, false, slab)
		if result.Start < 0 || result.Score <= 0 {
			continue
		}
		entry.Score = result.Score
		matched = append(matched, entry)
	}
	slices.SortStableFunc(matched, func(a, b kindEntry) int {
		if byScore := cmp.Compare(b.Score, a.Score); byScore != 0 {
			return byScore
		}
		return cmp.Compare(a.Code, b.Code)
	})
	return matched
}

func (w *window) String() string {
	if w == nil {
		return "-"
	}
	return formatNumber(w.Min) + "–" + formatNumber(w.Max) + "°C"
}

func orDash(text string) string {
	if text == "" {
		return "-"
	}
	return text
}
