// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package republish

import (
	"context"
	"log/slog"
	"time"

	"github.com/olegiv/content-update-scheduler/internal/metrics"
	"github.com/olegiv/content-update-scheduler/internal/store"
)

// DefaultSweepBatch bounds the work of one sweep.
const DefaultSweepBatch = 50

// SweepResult summarises one sweep.
type SweepResult struct {
	Fired   int `json:"fired"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Sweeper fires pending updates whose instant has passed, catching the
// ones a one-shot timer missed.
type Sweeper struct {
	engine  *Engine
	docs    *store.Documents
	batch   int
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewSweeper creates a sweeper handling at most batch updates per run.
func NewSweeper(d Deps, e *Engine, batch int, m *metrics.Metrics) *Sweeper {
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	return &Sweeper{
		engine:  e,
		docs:    d.Documents,
		batch:   batch,
		metrics: m,
		logger:  d.logger(),
		now:     time.Now,
	}
}

// SetClock replaces the time source deciding what is overdue.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run fires up to one batch of overdue updates, oldest first. A failing
// update does not stop the batch.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	rows, err := s.docs.FindPending(ctx, store.PendingFilter{DueBy: s.now().Unix(), Limit: s.batch})
	if err != nil {
		return res, err
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		merged, skipped := s.engine.fireLogged(ctx, row.ID, "sweeper")
		switch {
		case merged:
			res.Fired++
		case skipped:
			res.Skipped++
		default:
			res.Failed++
		}
	}

	s.metrics.Sweep(res.Fired, res.Failed, res.Skipped)
	if len(rows) > 0 {
		s.logger.Info("overdue sweep finished", "fired", res.Fired, "failed", res.Failed, "skipped", res.Skipped)
	}
	return res, ctx.Err()
}

// OnTimer is the check_overdue handler.
func (s *Sweeper) OnTimer(ctx context.Context, data any) (any, error) {
	if _, err := s.Run(ctx); err != nil {
		s.logger.Error("overdue sweep failed", "category", "scheduler", "error", err)
	}
	return data, nil
}
