// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/olegiv/content-update-scheduler/internal/version"

	// Zone data for CUS_TIMEZONE on hosts without a tz database.
	_ "time/tzdata"
)

// Version information - injected at build time via ldflags
var (
	appVersion   = "dev"
	appGitCommit = "unknown"
	appBuildTime = "unknown"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Verbose bool
	EnvFile string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "cus",
		Short: "Content update scheduler",
		Long: `Schedules pending updates of published documents and swaps them into
the live document at the chosen instant, and schedules changes of the
static front page.

Configuration is read from CUS_* environment variables and an optional
.env file.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newFireCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newUninstallCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Info{Version: appVersion, GitCommit: appGitCommit, BuildTime: appBuildTime}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return err
		},
	}
}
