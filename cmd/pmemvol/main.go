// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command pmemvol creates, destroys and inspects the PMem volume
// spread across a host's PMem namespaces.
package main

import (
	"context"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemdev"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemgpt"
	"git.lukeshu.com/pmemvol-ng/lib/pmemutil"
	"git.lukeshu.com/pmemvol-ng/lib/textui"
)

type subcommand struct {
	cobra.Command
	RunE func(*pmemutil.Orchestrator, *cobra.Command, []string) error
}

var subcommands []subcommand

func main() {
	logLevelFlag := textui.LogLevelFlag{
		Level: dlog.LogLevelInfo,
	}

	argparser := &cobra.Command{
		Use:   "pmemvol {[flags]|SUBCOMMAND}",
		Short: "Manage the PMem volume spread across a host's PMem namespaces",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
		SilenceUsage:  true, // our FlagErrorFunc will handle it

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&logLevelFlag, "verbosity", "set the verbosity")
	cfgLoader := newConfigLoader(argparser.PersistentFlags())
	for _, name := range []string{"config", "namespace-dir", "volume-dir", "helper"} {
		if err := argparser.MarkPersistentFlagFilename(name); err != nil {
			panic(err)
		}
	}

	for _, child := range subcommands {
		cmd := child.Command
		runE := child.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := textui.NewLogger(os.Stderr, logLevelFlag.Level)
			ctx = dlog.WithLogger(ctx, logger)
			dlog.SetFallbackLogger(logger.WithField("pmemvol.THIS_IS_A_BUG", true))

			cfg, err := cfgLoader.Load(ctx)
			if err != nil {
				return err
			}

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
				EnableSignalHandling: true,
			})
			grp.Go("main", func(ctx context.Context) (err error) {
				gateway := new(pmemdev.IoctlGateway)
				defer func() {
					if _err := gateway.Close(); _err != nil && err == nil {
						err = _err
					}
				}()
				orch := &pmemutil.Orchestrator{
					Config:      cfg,
					Gateway:     gateway,
					Helper:      pmemutil.ExecHelper{Path: cfg.Helper},
					FSProber:    pmemgpt.BlkidProber{},
					Exclusivity: pmemutil.NewCommandExclusivity(cfg.ExclusiveCheck),
				}
				cmd.SetContext(ctx)
				return runE(orch, cmd, args)
			})
			return grp.Wait()
		}
		argparser.AddCommand(&cmd)
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stdout, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
