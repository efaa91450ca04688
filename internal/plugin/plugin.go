// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package plugin assembles the scheduler components and connects them
// through the hooks registry.
package plugin

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/olegiv/content-update-scheduler/internal/cache"
	"github.com/olegiv/content-update-scheduler/internal/config"
	"github.com/olegiv/content-update-scheduler/internal/homepage"
	"github.com/olegiv/content-update-scheduler/internal/hooks"
	"github.com/olegiv/content-update-scheduler/internal/lock"
	"github.com/olegiv/content-update-scheduler/internal/metrics"
	"github.com/olegiv/content-update-scheduler/internal/republish"
	"github.com/olegiv/content-update-scheduler/internal/stamp"
	"github.com/olegiv/content-update-scheduler/internal/store"
	"github.com/olegiv/content-update-scheduler/internal/timer"
)

// Owner is the hook owner name of every handler the plugin registers.
const Owner = "content-update-scheduler"

// Notifier receives scheduler events.
type Notifier interface {
	republish.Notifier
	homepage.Notifier
}

// Options are the shared resources a Plugin is built from.
type Options struct {
	Config   *config.Config
	DB       *sqlx.DB
	Cache    cache.Cache
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Plugin holds every scheduler component.
type Plugin struct {
	Hooks      *hooks.Registry
	Timers     *timer.Service
	Documents  *store.Documents
	Settings   *store.Settings
	Normalizer *stamp.Normalizer

	Store    *republish.Store
	Engine   *republish.Engine
	Sweeper  *republish.Sweeper
	Recovery *republish.Recovery
	Homepage *homepage.Scheduler

	logger *slog.Logger
}

// New builds the components. Call Wire before arming anything.
func New(opts Options) (*Plugin, error) {
	if opts.Config == nil || opts.DB == nil || opts.Cache == nil {
		return nil, errors.New("plugin: config, database and cache are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config

	registry := hooks.NewRegistry(logger)
	docs := store.NewDocuments(opts.DB, registry)
	settings := store.NewSettings(opts.DB)
	timers := timer.New(registry, logger)
	norm := stamp.New(stamp.LoadLocation(cfg.Timezone), cfg.PastGrace)

	deps := republish.Deps{
		Documents:     docs,
		Timers:        timers,
		Locks:         lock.New(opts.Cache, cfg.LockTTL, logger),
		Normalizer:    norm,
		Hooks:         registry,
		Integrations:  republish.NewIntegrations(cfg.Integrations, docs, logger),
		ExcludedTypes: cfg.Integrations.ExcludedTypes,
		Logger:        logger,
	}

	// A nil interface must stay nil so the components skip dispatching.
	var (
		repNotifier  republish.Notifier
		homeNotifier homepage.Notifier
	)
	if opts.Notifier != nil {
		repNotifier = opts.Notifier
		homeNotifier = opts.Notifier
	}

	p := &Plugin{
		Hooks:      registry,
		Timers:     timers,
		Documents:  docs,
		Settings:   settings,
		Normalizer: norm,
		logger:     logger,
	}
	p.Store = republish.NewStore(deps)
	p.Engine = republish.NewEngine(deps, p.Store, repNotifier, opts.Metrics)
	p.Sweeper = republish.NewSweeper(deps, p.Engine, cfg.SweepBatch, opts.Metrics)
	p.Homepage = homepage.New(homepage.Deps{
		Documents:  docs,
		Settings:   settings,
		Timers:     timers,
		Normalizer: norm,
		Notifier:   homeNotifier,
		Metrics:    opts.Metrics,
		CatchUp:    cfg.HomepageCatchUp,
		Logger:     logger,
	})
	p.Recovery = republish.NewRecovery(deps, p.Store, p.Engine, settings, p.Homepage, cfg.SweepSchedule)

	opts.Metrics.WatchTimers(timers.Count)
	return p, nil
}

// Wire registers the scheduler's handlers. Wiring twice replaces the
// earlier registrations.
func (p *Plugin) Wire() {
	p.Hooks.UnregisterAll(Owner)

	p.Hooks.RegisterFunc(hooks.PublishPost, "fire-pending-update", Owner, p.Engine.OnTimer)
	p.Hooks.RegisterFunc(hooks.CheckOverdue, "sweep-overdue", Owner, p.Sweeper.OnTimer)
	p.Hooks.RegisterFunc(hooks.ChangeHomepage, "change-homepage", Owner, p.Homepage.OnTimer)
	p.Hooks.RegisterFunc(hooks.TransitionStatus, "keep-pending-status", Owner, p.Store.EnforceStatus)
	p.Hooks.RegisterFunc(hooks.Trashed, "disarm-trashed", Owner, p.Store.OnTrash)
	p.Hooks.RegisterFunc(hooks.Untrashed, "rearm-restored", Owner, p.Store.OnRestore)
}

// Start wires the handlers, recovers timers from storage and starts the
// recurring sweep.
func (p *Plugin) Start(ctx context.Context) (republish.RecoveryReport, error) {
	p.Wire()
	report, err := p.Recovery.Activate(ctx)
	if err != nil {
		return report, err
	}
	p.Timers.Start()
	return report, nil
}

// Stop disarms in-memory timers and waits for running handlers. Stored
// schedules are kept for the next start.
func (p *Plugin) Stop() {
	p.Timers.Stop()
}

// Deactivate clears every timer the scheduler armed.
func (p *Plugin) Deactivate(ctx context.Context) error {
	return p.Recovery.Deactivate(ctx)
}

// Uninstall removes all scheduler data and handlers.
func (p *Plugin) Uninstall(ctx context.Context) error {
	if err := p.Recovery.Uninstall(ctx); err != nil {
		return err
	}
	p.Hooks.UnregisterAll(Owner)
	p.logger.Info("scheduler handlers removed")
	return nil
}
