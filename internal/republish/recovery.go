// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package republish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/olegiv/content-update-scheduler/internal/hooks"
	"github.com/olegiv/content-update-scheduler/internal/lock"
	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/store"
	"github.com/olegiv/content-update-scheduler/internal/timer"
)

// DefaultSweepSchedule runs the overdue sweep every five minutes.
const DefaultSweepSchedule = "*/5 * * * *"

// HomepageTimers is the part of the homepage scheduler recovery drives.
type HomepageTimers interface {
	// Rearm arms every stored change and returns how many timers it armed.
	Rearm(ctx context.Context) (int, error)
	// Disarm clears every homepage timer and returns how many it cleared.
	Disarm(ctx context.Context) (int, error)
	// Purge removes the stored change list.
	Purge(ctx context.Context) error
}

// RecoveryReport summarises an activation.
type RecoveryReport struct {
	Armed         int `json:"armed"`
	Reconciled    int `json:"reconciled"`
	HomepageArmed int `json:"homepage_armed"`
}

// Recovery rebuilds in-memory timers from stored state on start and tears
// them down on stop.
type Recovery struct {
	store    *Store
	engine   *Engine
	docs     *store.Documents
	settings *store.Settings
	timers   *timer.Service
	locks    *lock.Locker
	homepage HomepageTimers
	schedule string
	logger   *slog.Logger
	now      func() time.Time
}

// NewRecovery creates a recovery manager. homepage may be nil.
func NewRecovery(d Deps, s *Store, e *Engine, settings *store.Settings, homepage HomepageTimers, sweepSchedule string) *Recovery {
	if sweepSchedule == "" {
		sweepSchedule = DefaultSweepSchedule
	}
	return &Recovery{
		store:    s,
		engine:   e,
		docs:     d.Documents,
		settings: settings,
		timers:   d.Timers,
		locks:    d.Locks,
		homepage: homepage,
		schedule: sweepSchedule,
		logger:   d.logger(),
		now:      time.Now,
	}
}

// SetClock replaces the time source deciding which updates are future.
func (r *Recovery) SetClock(now func() time.Time) {
	r.now = now
}

// Activate ensures the overdue sweep is scheduled, finishes swaps that
// were interrupted after persisting, and arms every future pending update
// and homepage change that has no timer. Running it again arms nothing new.
func (r *Recovery) Activate(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	err := r.timers.ScheduleRecurring(hooks.CheckOverdue, r.schedule)
	if err != nil && !errors.Is(err, timer.ErrAlreadyScheduled) {
		return report, fmt.Errorf("scheduling overdue sweep: %w", err)
	}

	if report.Reconciled, err = r.reconcile(ctx); err != nil {
		return report, err
	}

	rows, err := r.docs.FindPending(ctx, store.PendingFilter{After: r.now().Unix()})
	if err != nil {
		return report, err
	}
	for _, row := range rows {
		if _, armed := r.timers.NextScheduled(hooks.PublishPost, row.ID); armed {
			continue
		}
		err := r.timers.ScheduleOnce(hooks.PublishPost, time.Unix(row.ScheduledAt, 0).UTC(), row.ID)
		if err != nil && !errors.Is(err, timer.ErrAlreadyScheduled) {
			return report, err
		}
		if err == nil {
			report.Armed++
		}
	}

	if r.homepage != nil {
		if report.HomepageArmed, err = r.homepage.Rearm(ctx); err != nil {
			return report, err
		}
	}

	r.logger.Info("recovery finished",
		"armed", report.Armed,
		"reconciled", report.Reconciled,
		"homepage_armed", report.HomepageArmed,
	)
	return report, nil
}

// reconcile handles originals still carrying a swap marker. When the
// marked pending update still exists, its content was already persisted
// onto the original and only cleanup is missing.
func (r *Recovery) reconcile(ctx context.Context) (int, error) {
	marked, err := r.docs.WithAttribute(ctx, model.AttrSwappedFrom)
	if err != nil {
		return 0, err
	}

	n := 0
	for origID, raw := range marked {
		pendingID, _ := strconv.ParseInt(raw, 10, 64)
		done, err := r.reconcileOne(ctx, origID, pendingID)
		if err != nil {
			r.logger.Error("reconciling interrupted swap", "original_id", origID, "pending_id", pendingID,
				"category", model.EventCategoryRepublish, "error", err)
			continue
		}
		if done {
			n++
		}
	}
	return n, nil
}

func (r *Recovery) reconcileOne(ctx context.Context, origID, pendingID int64) (bool, error) {
	release, err := r.locks.Acquire(ctx, lockKey(pendingID))
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			// A firing in progress owns it.
			return false, nil
		}
		return false, err
	}
	defer release()

	pending, err := r.docs.Get(ctx, pendingID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return false, err
	}
	if pending != nil && pending.IsPendingUpdate() {
		target, _, err := r.docs.Attribute(ctx, pendingID, model.AttrOriginalID)
		if err != nil {
			return false, err
		}
		if target == strconv.FormatInt(origID, 10) {
			if err := r.engine.finish(ctx, pending, origID); err != nil {
				return false, err
			}
			r.logger.Warn("completed interrupted swap", "pending_id", pendingID, "original_id", origID)
			return true, nil
		}
	}

	// Stale marker only.
	return false, r.docs.DeleteAttribute(ctx, origID, model.AttrSwappedFrom)
}

// Deactivate clears the overdue sweep and every publish and homepage timer.
// Stored pending updates and homepage changes are kept.
func (r *Recovery) Deactivate(ctx context.Context) error {
	r.timers.Cancel(hooks.CheckOverdue)
	cleared := r.timers.ClearHook(hooks.PublishPost)

	homepage := 0
	if r.homepage != nil {
		var err error
		if homepage, err = r.homepage.Disarm(ctx); err != nil {
			return err
		}
	}
	r.logger.Info("scheduler deactivated", "publish_timers", cleared, "homepage_timers", homepage)
	return nil
}

// Uninstall deactivates and then removes every pending update, the
// scheduling attributes of all documents, the homepage change list and the
// scheduler settings.
func (r *Recovery) Uninstall(ctx context.Context) error {
	if err := r.Deactivate(ctx); err != nil {
		return err
	}

	rows, err := r.docs.FindPending(ctx, store.PendingFilter{})
	if err != nil {
		return err
	}
	trashed, err := r.docs.FindPending(ctx, store.PendingFilter{Status: model.StatusTrash})
	if err != nil {
		return err
	}
	for _, row := range trashed {
		if row.TrashedStatus == model.StatusPendingRepublish {
			rows = append(rows, row)
		}
	}
	for i := range rows {
		if err := r.store.deleteDocument(ctx, &rows[i].Document); err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
	}

	for _, key := range append([]string{model.AttrSwappedFrom}, model.SchedulingAttrs...) {
		if _, err := r.docs.DeleteAttributeEverywhere(ctx, key); err != nil {
			return err
		}
	}

	if r.homepage != nil {
		if err := r.homepage.Purge(ctx); err != nil {
			return err
		}
	}
	if err := r.settings.Delete(ctx, model.SettingPluginSettings); err != nil {
		return err
	}

	r.logger.Info("scheduler uninstalled", "pending_removed", len(rows))
	return nil
}
