// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/pmemvol-ng/lib/pmemutil"
	"git.lukeshu.com/pmemvol-ng/lib/textui"
)

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "create",
			Short: "Create the PMem volume, or expose and mount the existing one",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(orch *pmemutil.Orchestrator, cmd *cobra.Command, _ []string) error {
			res, err := orch.Create(cmd.Context())
			if err != nil {
				return err
			}
			verb := "found"
			if res.Created {
				verb = "created"
			}
			textui.Fprintf(os.Stdout, "%s volume %v with %d extent(s), mounted %d volume(s)\n",
				verb, res.Volume.VolumeUUID, len(res.Volume.Directory), len(res.Volumes))
			return nil
		},
	})
}
