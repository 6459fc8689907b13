// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"git.lukeshu.com/pmemvol-ng/lib/pmemutil"
	"git.lukeshu.com/pmemvol-ng/lib/textui"
)

func init() {
	var spewFlag bool
	inspect := subcommand{
		Command: cobra.Command{
			Use:   "inspect",
			Short: "Describe the namespaces and the PMem volume, without modifying anything",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(orch *pmemutil.Orchestrator, cmd *cobra.Command, _ []string) error {
			report, err := orch.Inspect(cmd.Context())
			if err != nil {
				return err
			}
			if spewFlag {
				spew := spew.NewDefaultConfig()
				spew.DisablePointerAddresses = true
				for _, e := range report.Probed {
					textui.Fprintf(os.Stdout, "%v = ", e)
					spew.Dump(e.Record)
					_, _ = os.Stdout.WriteString("\n")
				}
				return nil
			}
			return writeJSON(os.Stdout, report, lowmemjson.ReEncoderConfig{
				Indent:                "\t",
				CompactIfUnder:        80, //nolint:gomnd // This is what looks nice.
				ForceTrailingNewlines: true,
			})
		},
	}
	inspect.Command.Flags().BoolVar(&spewFlag, "spew", false, "dump the decoded records instead of a JSON report")
	subcommands = append(subcommands, inspect)
}
