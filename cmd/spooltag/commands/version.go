// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/version"
)

type versionParams struct {
	cli.JSONOutput
}

func (s *streams) versionCommand() *cli.Command {
	var params versionParams
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("version", &params) },
		Run: func(args []string) error {
			if done, err := params.EmitJSON(s.stdout, version.Current()); done {
				return err
			}
			fmt.Fprintf(s.stdout, "spooltag %s\n", version.Full())
			return nil
		},
	}
}
