// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/olegiv/content-update-scheduler/internal/auth"
	"github.com/olegiv/content-update-scheduler/internal/handler/api"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and its HTTP API",
		Long: `Re-arms stored schedules, starts the overdue sweep and serves the REST
API until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.plugin.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	a.logger.Info("scheduler started",
		"armed", report.Armed, "reconciled", report.Reconciled, "homepage_armed", report.HomepageArmed)

	keys := auth.NewKeyRing(a.cfg.APIKeys)
	if keys.Len() == 0 {
		a.logger.Warn("no API keys configured, every API request will be rejected")
	}
	h := api.NewHandler(a.plugin, api.Options{
		Keys:        keys,
		PublishRate: a.cfg.PublishRate,
		Metrics:     a.metrics,
		Health:      a.health,
		Logger:      a.logger,
	})

	srv := &http.Server{
		Addr:              a.cfg.ServerAddr(),
		Handler:           h.Router(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}
