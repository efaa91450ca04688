// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/olegiv/content-update-scheduler/internal/auth"
	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/republish"
	"github.com/olegiv/content-update-scheduler/internal/stamp"
)

// withApp runs fn against a fully set up app.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()
	a.plugin.Wire()
	return fn(ctx, a)
}

func newFireCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fire <pending-id>",
		Short: "Publish a pending update now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid pending id %q", args[0])
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				origID, err := a.plugin.Engine.FireNow(ctx, auth.System, id)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "pending update %d published into document %d\n", id, origID)
				return err
			})
		},
	}
}

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Publish every overdue pending update once",
		Long: `Runs one overdue sweep and exits. Useful when the scheduler is driven
by an external cron instead of "cus serve".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.plugin.Sweeper.Run(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "fired %d, failed %d, skipped %d\n", res.Fired, res.Failed, res.Skipped)
				return err
			})
		},
	}
}

type listOutput struct {
	Pending  []model.PendingSummary `json:"pending"`
	Homepage []model.HomepageChange `json:"homepage_changes"`
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var (
		asJSON     bool
		originalID int64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending updates and scheduled homepage changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				pending, err := a.plugin.Store.List(ctx, republish.ListFilter{OriginalID: originalID})
				if err != nil {
					return err
				}
				changes, err := a.plugin.Homepage.List(ctx)
				if err != nil {
					return err
				}
				out := listOutput{Pending: pending, Homepage: changes}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(out)
				}
				return printList(cmd.OutOrStdout(), a.plugin.Normalizer, out)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().Int64Var(&originalID, "original", 0, "only updates of this document")
	return cmd
}

func printList(w io.Writer, norm *stamp.Normalizer, out listOutput) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tORIGINAL\tTITLE\tSCHEDULED\tSTATE")
	for _, p := range out.Pending {
		when := "-"
		if p.ScheduledAt > 0 {
			when = norm.Format(p.ScheduledAt)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", p.ID, p.OriginalID, p.Title, when, p.State)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(out.Homepage) == 0 {
		return nil
	}
	_, _ = fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PAGE\tSWITCH AT")
	for _, c := range out.Homepage {
		_, _ = fmt.Fprintf(tw, "%d\t%s\n", c.PageID, norm.Format(c.Timestamp))
	}
	return tw.Flush()
}

func newUninstallCommand(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Delete every pending update and scheduler setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("uninstall deletes all pending updates; pass --yes to confirm")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.plugin.Uninstall(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "scheduler data removed")
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
