// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/olegiv/content-update-scheduler/internal/cache"
	"github.com/olegiv/content-update-scheduler/internal/config"
	"github.com/olegiv/content-update-scheduler/internal/logging"
	"github.com/olegiv/content-update-scheduler/internal/metrics"
	"github.com/olegiv/content-update-scheduler/internal/notify"
	"github.com/olegiv/content-update-scheduler/internal/plugin"
	"github.com/olegiv/content-update-scheduler/internal/store"
)

// app holds the resources shared by every command.
type app struct {
	cfg        *config.Config
	db         *sqlx.DB
	cache      *cache.CacheInfo
	publisher  notify.Publisher
	dispatcher *notify.Dispatcher
	metrics    *metrics.Metrics
	plugin     *plugin.Plugin
	logger     *slog.Logger
}

// setup loads configuration and opens the database, the lock backend and
// the notification transport.
func setup(ctx context.Context, opts *rootOptions) (*app, error) {
	if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", opts.EnvFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(textHandler))

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	slog.Debug("opening database", "path", cfg.DBPath)
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	// Warnings and errors also go to the event log from here on.
	logger := slog.New(logging.NewEventLogHandler(textHandler, store.NewEvents(db)))
	slog.SetDefault(logger)

	a := &app{cfg: cfg, db: db, logger: logger, metrics: metrics.New()}

	a.cache, err = cache.NewCacheWithInfo(cache.CacheConfig{
		RedisURL:         cfg.RedisURL,
		Prefix:           cfg.CachePrefix,
		FallbackToMemory: cfg.IsDevelopment(),
		DefaultTTL:       cfg.LockTTL,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	logger.Debug("lock backend ready", "backend", a.cache.BackendType, "fallback", a.cache.IsFallback)

	if cfg.UseAMQP() {
		rmq, err := notify.NewRabbitMQ(notify.RabbitMQConfig{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange}, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.publisher = rmq
	} else {
		a.publisher = notify.NewLogPublisher(logger)
	}
	a.dispatcher = notify.NewDispatcher(a.publisher, logger, notify.DefaultConfig())
	a.dispatcher.Start(ctx)

	a.plugin, err = plugin.New(plugin.Options{
		Config:   cfg,
		DB:       db,
		Cache:    a.cache.Cache,
		Notifier: a.dispatcher,
		Metrics:  a.metrics,
		Logger:   logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// health reports whether the database and lock backend respond.
func (a *app) health(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if rc, ok := a.cache.Cache.(*cache.RedisCache); ok {
		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// close releases resources in reverse order of setup.
func (a *app) close() {
	if a.plugin != nil {
		a.plugin.Stop()
	}
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("closing notification publisher", "error", err)
		}
	}
	if a.cache != nil {
		_ = a.cache.Cache.Close()
	}
	if err := a.db.Close(); err != nil {
		slog.Error("error closing database connection", "error", err)
	}
}
