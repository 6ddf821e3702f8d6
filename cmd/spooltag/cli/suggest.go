// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// suggestionDistance is the largest edit distance still worth a "did
// you mean" hint.
const suggestionDistance = 3

// suggestCommand returns the subcommand name closest to unknown, or ""
// when nothing is close.
func suggestCommand(unknown string, commands []*Command) string {
	names := make([]string, len(commands))
	for index, command := range commands {
		names[index] = command.Name
	}
	return Closest(unknown, names)
}

// Closest returns the candidate nearest to input by edit distance, or
// "" when none is within a few edits.
func Closest(input string, candidates []string) string {
	best := ""
	bestDistance := suggestionDistance + 1
	for _, candidate := range candidates {
		if distance := levenshtein(input, candidate); distance < bestDistance {
			bestDistance = distance
			best = candidate
		}
	}
	return best
}

// suggestFlag finds the first argument naming an undefined flag and
// returns the closest defined flag, prefixed with "--", or "".
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	var defined []string
	flagSet.VisitAll(func(flag *pflag.Flag) {
		defined = append(defined, flag.Name)
	})

	for _, arg := range args {
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if flagSet.Lookup(name) != nil {
			continue
		}
		if best := Closest(name, defined); best != "" {
			return "--" + best
		}
		break
	}
	return ""
}

// levenshtein is the edit distance between a and b, computed with a
// single rolling row.
func levenshtein(a, b string) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	if len(a) == 0 {
		return len(b)
	}

	previous := make([]int, len(a)+1)
	current := make([]int, len(a)+1)
	for i := range previous {
		previous[i] = i
	}
	for j := 1; j <= len(b); j++ {
		current[0] = j
		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			current[i] = min(previous[i]+1, current[i-1]+1, previous[i-1]+cost)
		}
		previous, current = current, previous
	}
	return previous[len(a)]
}
