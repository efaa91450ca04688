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

	"github.com/olegiv/content-update-scheduler/internal/auth"
	"github.com/olegiv/content-update-scheduler/internal/hooks"
	"github.com/olegiv/content-update-scheduler/internal/lock"
	"github.com/olegiv/content-update-scheduler/internal/metrics"
	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/notify"
	"github.com/olegiv/content-update-scheduler/internal/store"
	"github.com/olegiv/content-update-scheduler/internal/timer"
)

// Notifier receives events about firings.
type Notifier interface {
	Dispatch(ctx context.Context, event *notify.Event) error
}

// Engine swaps pending updates into their originals.
//
// A firing runs Pending -> Firing -> Merged, or RolledBack when anything
// after the first write fails. Entry to Firing is guarded by a lock on the
// pending id so timers, the sweeper and manual publishing never fire the
// same update twice.
type Engine struct {
	store    *Store
	docs     *store.Documents
	timers   *timer.Service
	locks    *lock.Locker
	hooks    hooks.Caller
	copier   *copier
	notifier Notifier
	metrics  *metrics.Metrics
	authz    auth.Authorizer
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a swap engine. notifier and m may be nil.
func NewEngine(d Deps, s *Store, notifier Notifier, m *metrics.Metrics) *Engine {
	return &Engine{
		store:    s,
		docs:     d.Documents,
		timers:   d.Timers,
		locks:    d.Locks,
		hooks:    d.Hooks,
		copier:   s.copier,
		notifier: notifier,
		metrics:  m,
		logger:   d.logger(),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for publish dates.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func lockKey(pendingID int64) string {
	return "publish:" + strconv.FormatInt(pendingID, 10)
}

// FireNow publishes a pending update on behalf of actor, ignoring its
// schedule. The actor must be allowed to edit the original.
func (e *Engine) FireNow(ctx context.Context, actor auth.Actor, pendingID int64) (int64, error) {
	pending, err := e.store.pendingDoc(ctx, pendingID)
	if err != nil {
		return 0, err
	}
	orig, err := e.store.originalOf(ctx, pending)
	if err != nil {
		return 0, err
	}
	if !e.authz.CanEdit(actor, orig) {
		return 0, fmt.Errorf("editing document %d: %w", orig.ID, model.ErrPermissionDenied)
	}
	return e.Publish(ctx, pendingID)
}

// Publish fires a pending update and returns the id of the original it
// was merged into.
func (e *Engine) Publish(ctx context.Context, pendingID int64) (int64, error) {
	release, err := e.locks.Acquire(ctx, lockKey(pendingID))
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			e.metrics.Swap(metrics.ResultRejected)
			return 0, fmt.Errorf("publishing %d: %w", pendingID, model.ErrAlreadyInProgress)
		}
		return 0, err
	}
	defer release()

	pending, err := e.docs.Get(ctx, pendingID)
	if err != nil {
		return 0, err
	}
	if pending.IsTrashed() {
		return 0, fmt.Errorf("pending update %d is trashed: %w", pendingID, model.ErrNotFound)
	}
	if !pending.IsPendingUpdate() {
		return 0, fmt.Errorf("document %d is not a pending update: %w", pendingID, model.ErrNotFound)
	}
	orig, err := e.store.originalOf(ctx, pending)
	if err != nil {
		return 0, err
	}

	marker, _, err := e.docs.Attribute(ctx, orig.ID, model.AttrSwappedFrom)
	if err != nil {
		return 0, err
	}
	if marker == strconv.FormatInt(pendingID, 10) {
		// An earlier firing persisted the swap but did not finish.
		if err := e.finish(ctx, pending, orig.ID); err != nil {
			return 0, err
		}
		e.logger.Warn("completed interrupted swap", "pending_id", pendingID, "original_id", orig.ID)
		return orig.ID, nil
	}

	event := hooks.PublishEvent{PendingID: pendingID, OriginalID: orig.ID}
	if err := e.hooks.Do(ctx, hooks.BeforePublish, event); err != nil {
		e.logger.Warn("before publish hook failed", "pending_id", pendingID, "error", err)
	}

	snap, err := takeSnapshot(ctx, e.docs, e.copier, orig, pending)
	if err != nil {
		return 0, fmt.Errorf("snapshotting document %d: %w", orig.ID, err)
	}

	if err := e.swap(ctx, pending, orig); err != nil {
		// The firing context may be cancelled; rollback must still run.
		rctx := context.WithoutCancel(ctx)
		if rerr := snap.restore(rctx, e.docs); rerr != nil {
			e.logger.Error("rollback incomplete", "pending_id", pendingID, "original_id", orig.ID,
				"category", model.EventCategoryRepublish, "error", rerr)
		}
		e.metrics.Swap(metrics.ResultRolledBack)
		e.notify(rctx, notify.EventRepublishFailed, notify.FailedData{
			PendingID: pendingID,
			Kind:      model.KindSwapFailed,
			Error:     err.Error(),
		})
		return 0, fmt.Errorf("publishing %d into %d: %w: %w", pendingID, orig.ID, model.ErrSwapFailed, err)
	}

	if err := e.hooks.Do(ctx, hooks.AfterPublish, event); err != nil {
		e.logger.Warn("after publish hook failed", "pending_id", pendingID, "error", err)
	}
	e.metrics.Swap(metrics.ResultMerged)
	e.notify(ctx, notify.EventRepublishPublished, notify.PublishedData{PendingID: pendingID, OriginalID: orig.ID})

	e.logger.Info("pending update published", "pending_id", pendingID, "original_id", orig.ID)
	return orig.ID, nil
}

// swap copies pending onto orig and removes pending. Any error leaves the
// caller to roll back.
func (e *Engine) swap(ctx context.Context, pending, orig *model.Document) error {
	origAttrs, err := e.docs.Attributes(ctx, orig.ID)
	if err != nil {
		return err
	}
	keepDates := false
	if v, _, err := e.docs.Attribute(ctx, pending.ID, model.AttrKeepOriginalDates); err != nil {
		return err
	} else if v == keepDatesYes {
		keepDates = true
	}

	if err := e.copier.attributes(ctx, pending.ID, orig.ID, true); err != nil {
		return fmt.Errorf("copying attributes: %w", err)
	}
	if err := e.copier.terms(ctx, pending.ID, orig.ID); err != nil {
		return fmt.Errorf("copying terms: %w", err)
	}
	if err := e.docs.DeleteAttributes(ctx, orig.ID, model.SchedulingAttrs); err != nil {
		return err
	}
	if err := e.keepStock(ctx, orig.ID, origAttrs); err != nil {
		return fmt.Errorf("restoring stock: %w", err)
	}

	updated := *orig
	updated.Title = pending.Title
	updated.Body = pending.Body
	updated.Summary = pending.Summary
	updated.AuthorID = pending.AuthorID
	updated.MenuOrder = pending.MenuOrder
	updated.CommentStatus = pending.CommentStatus
	updated.Password = pending.Password
	updated.Type = pending.Type

	now := e.now().UTC()
	if keepDates {
		updated.ModifiedAt = now
	} else {
		date := e.publishDate(ctx, now, pending, orig)
		updated.CreatedAt = date
		updated.ModifiedAt = date
	}

	if failed := e.copier.integrate(ctx, pending, &updated, PhasePublish); len(failed) > 0 {
		e.logger.Warn("auxiliary copy failed", "pending_id", pending.ID, "original_id", orig.ID, "integrations", failed)
	}

	if err := e.stillPending(ctx, pending.ID); err != nil {
		return err
	}

	marker := model.Attributes{model.AttrSwappedFrom: strconv.FormatInt(pending.ID, 10)}
	if err := e.docs.UpdateWith(ctx, &updated, marker); err != nil {
		return fmt.Errorf("persisting document %d: %w", orig.ID, err)
	}

	return e.finish(ctx, pending, orig.ID)
}

// stillPending fails when the update was deleted or trashed after the
// firing loaded it.
func (e *Engine) stillPending(ctx context.Context, pendingID int64) error {
	doc, err := e.docs.Get(ctx, pendingID)
	if err != nil {
		return fmt.Errorf("reloading pending update %d: %w", pendingID, err)
	}
	if !doc.IsPendingUpdate() {
		return fmt.Errorf("pending update %d withdrawn during firing: %w", pendingID, model.ErrNotFound)
	}
	return nil
}

// finish removes a merged pending update and then the swap marker.
func (e *Engine) finish(ctx context.Context, pending *model.Document, origID int64) error {
	if err := e.store.deleteDocument(ctx, pending); err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("deleting pending update %d: %w", pending.ID, err)
	}
	e.timers.Cancel(hooks.PublishPost, pending.ID)

	// Scheduling keys can be left on the original by an interrupted swap.
	keys := append([]string{model.AttrSwappedFrom}, model.SchedulingAttrs...)
	if err := e.docs.DeleteAttributes(ctx, origID, keys); err != nil {
		e.logger.Warn("removing swap marker", "original_id", origID, "error", err)
	}
	return nil
}

// keepStock puts the original's stock values back after attributes were
// copied from the pending update.
func (e *Engine) keepStock(ctx context.Context, origID int64, before model.Attributes) error {
	keys := []string{model.AttrStockStatus, model.AttrStockQuantity}
	if err := e.docs.SetAttributes(ctx, origID, pick(before, keys)); err != nil {
		return err
	}
	var missing []string
	for _, k := range keys {
		if !before.Has(k) {
			missing = append(missing, k)
		}
	}
	return e.docs.DeleteAttributes(ctx, origID, missing)
}

// PublishDateRequest is passed through the publish_post_date filter.
// Handlers may replace Date.
type PublishDateRequest struct {
	Date       time.Time
	PendingID  int64
	OriginalID int64
}

func (e *Engine) publishDate(ctx context.Context, now time.Time, pending, orig *model.Document) time.Time {
	req := &PublishDateRequest{Date: now, PendingID: pending.ID, OriginalID: orig.ID}
	out, err := e.hooks.Call(ctx, hooks.PublishDate, req)
	if err != nil {
		e.logger.Warn("publish date filter failed", "pending_id", pending.ID, "error", err)
		return now
	}
	if r, ok := out.(*PublishDateRequest); ok && r != nil && !r.Date.IsZero() {
		return r.Date.UTC()
	}
	return now
}

func (e *Engine) notify(ctx context.Context, eventType string, data any) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Dispatch(ctx, notify.NewEvent(eventType, data)); err != nil {
		e.logger.Warn("dispatching notification", "type", eventType, "error", err)
	}
}

// OnTimer is the publish_post handler. Failures are logged and leave the
// update pending for the sweeper or a manual attempt.
func (e *Engine) OnTimer(ctx context.Context, data any) (any, error) {
	args, ok := data.(hooks.Args)
	if !ok || len(args) == 0 {
		e.logger.Warn("publish timer without pending id", "data", data)
		return data, nil
	}
	e.fireLogged(ctx, args[0], "timer")
	return data, nil
}

// fireLogged publishes and logs the outcome. It reports whether the update
// was merged, and whether the attempt was skipped because another caller
// held it or it was already gone.
func (e *Engine) fireLogged(ctx context.Context, pendingID int64, source string) (merged, skipped bool) {
	_, err := e.Publish(ctx, pendingID)
	switch {
	case err == nil:
		return true, false
	case errors.Is(err, model.ErrAlreadyInProgress):
		e.logger.Info("publish skipped, already in progress", "pending_id", pendingID, "source", source)
		return false, true
	case errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrNoOriginal):
		e.logger.Info("publish skipped, update gone", "pending_id", pendingID, "source", source)
		return false, true
	default:
		e.logger.Error("scheduled publish failed",
			"pending_id", pendingID,
			"source", source,
			"kind", model.ErrorKind(err),
			"category", model.EventCategoryRepublish,
			"error", err,
		)
		return false, false
	}
}
