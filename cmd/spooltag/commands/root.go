// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the spooltag command tree. Every command is
// a method on streams so tests can run the tree against buffers and a
// fake environment.
package commands

import "github.com/bureau-foundation/spooltag/cmd/spooltag/cli"

// Root builds the complete spooltag command tree bound to the
// process's standard streams and environment.
func Root() *cli.Command {
	return osStreams().root()
}

func (s *streams) root() *cli.Command {
	return &cli.Command{
		Name: "spooltag",
		Description: `spooltag: read and write filament spool NFC tags.

Tags hold a 516-byte image: a header, a masked spool data section, a
masked manufacturing section, and a CRC-32. spooltag decodes images,
hex dumps, and JSON records into validated spool records, encodes
records into images, and explains what it corrected along the way.

Configuration is read from --config or $SPOOLTAG_CONFIG.`,
		HelpOutput: s.stdout,
		Subcommands: []*cli.Command{
			s.decodeCommand(),
			s.encodeCommand(),
			s.inspectCommand(),
			s.simulateCommand(),
			s.keyCommand(),
			s.kindsCommand(),
			s.dumpCommand(),
			s.historyCommand(),
			s.versionCommand(),
		},
	}
}
