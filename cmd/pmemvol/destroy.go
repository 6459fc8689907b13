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

func printUnmounted(unmounted bool) {
	if unmounted {
		textui.Fprintf(os.Stdout, "unmounted PMem volumes\n")
	}
}

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "destroy",
			Short: "Unmount the PMem volume and erase the partition table of every namespace",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(orch *pmemutil.Orchestrator, cmd *cobra.Command, _ []string) error {
			unmounted, err := orch.Destroy(cmd.Context())
			printUnmounted(unmounted)
			return err
		},
	})

	var uuidFlag string
	deleteGPT := subcommand{
		Command: cobra.Command{
			Use:   "delete-gpt --uuid=NAMESPACE_UUID",
			Short: "Unmount the PMem volume and erase the partition table of one namespace",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(orch *pmemutil.Orchestrator, cmd *cobra.Command, _ []string) error {
			unmounted, err := orch.DeleteGPT(cmd.Context(), uuidFlag)
			printUnmounted(unmounted)
			return err
		},
	}
	deleteGPT.Command.Flags().StringVar(&uuidFlag, "uuid", "", "the `uuid` of the namespace to erase")
	if err := deleteGPT.Command.MarkFlagRequired("uuid"); err != nil {
		panic(err)
	}
	subcommands = append(subcommands, deleteGPT)
}
