// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package republish implements scheduled updates of live documents: a
// pending copy is edited, armed for an instant, and swapped into its
// original when a timer, the overdue sweep or a user fires it.
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
	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/stamp"
	"github.com/olegiv/content-update-scheduler/internal/store"
	"github.com/olegiv/content-update-scheduler/internal/timer"
	"github.com/olegiv/content-update-scheduler/internal/util"
)

const keepDatesYes = "yes"

// Deps are the collaborators shared by the republish components.
type Deps struct {
	Documents    *store.Documents
	Timers       *timer.Service
	Locks        *lock.Locker
	Normalizer   *stamp.Normalizer
	Hooks        hooks.Caller
	Integrations []Integration
	// ExcludedTypes cannot receive pending updates.
	ExcludedTypes []string
	Logger        *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Store manages the lifecycle of pending updates short of firing them.
type Store struct {
	docs     *store.Documents
	timers   *timer.Service
	locks    *lock.Locker
	norm     *stamp.Normalizer
	hooks    hooks.Caller
	copier   *copier
	excluded map[string]bool
	authz    auth.Authorizer
	logger   *slog.Logger
	now      func() time.Time
}

// NewStore creates a pending-update store.
func NewStore(d Deps) *Store {
	excluded := make(map[string]bool, len(d.ExcludedTypes))
	for _, t := range d.ExcludedTypes {
		excluded[t] = true
	}
	return &Store{
		docs:     d.Documents,
		timers:   d.Timers,
		locks:    d.Locks,
		norm:     d.Normalizer,
		hooks:    d.Hooks,
		copier:   &copier{docs: d.Documents, integrations: d.Integrations},
		excluded: excluded,
		logger:   d.logger(),
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// pendingDoc loads id and checks that it is a pending update, or was one
// before it was trashed.
func (s *Store) pendingDoc(ctx context.Context, id int64) (*model.Document, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.IsPendingUpdate() || (doc.IsTrashed() && doc.TrashedStatus == model.StatusPendingRepublish) {
		return doc, nil
	}
	return nil, fmt.Errorf("document %d is not a pending update: %w", id, model.ErrNotFound)
}

// originalOf resolves the original a pending update points at.
func (s *Store) originalOf(ctx context.Context, pending *model.Document) (*model.Document, error) {
	raw, ok, err := s.docs.Attribute(ctx, pending.ID, model.AttrOriginalID)
	if err != nil {
		return nil, err
	}
	id, _ := strconv.ParseInt(raw, 10, 64)
	if !ok || id <= 0 {
		return nil, fmt.Errorf("pending update %d has no original: %w", pending.ID, model.ErrNoOriginal)
	}

	orig, err := s.docs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("pending update %d: original %d: %w", pending.ID, id, model.ErrNoOriginal)
		}
		return nil, err
	}
	if orig.IsTrashed() {
		return nil, fmt.Errorf("pending update %d: original %d is trashed: %w", pending.ID, id, model.ErrNoOriginal)
	}
	return orig, nil
}

// Create makes a pending update of sourceID and returns its id. A pending
// update used as source is resolved to its root original. Each original
// has a single slot: if an active pending update exists, its id is
// returned and nothing is created.
func (s *Store) Create(ctx context.Context, actor auth.Actor, sourceID int64) (int64, error) {
	src, err := s.docs.Get(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if src.IsTrashed() {
		return 0, fmt.Errorf("document %d is trashed: %w", sourceID, model.ErrNotFound)
	}
	if s.excluded[src.Type] {
		return 0, fmt.Errorf("document %d of type %s: %w", sourceID, src.Type, model.ErrExcludedType)
	}

	root := src
	if src.IsPendingUpdate() {
		if root, err = s.originalOf(ctx, src); err != nil {
			return 0, err
		}
	}
	if !s.authz.CanEdit(actor, root) {
		return 0, fmt.Errorf("editing document %d: %w", root.ID, model.ErrPermissionDenied)
	}

	release, err := s.locks.Acquire(ctx, "create:"+strconv.FormatInt(root.ID, 10))
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return 0, fmt.Errorf("creating update for %d: %w", root.ID, model.ErrAlreadyInProgress)
		}
		return 0, err
	}
	defer release()

	existing, err := s.docs.FindPending(ctx, store.PendingFilter{OriginalID: root.ID, Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		s.logger.Info("pending update already exists", "original_id", root.ID, "pending_id", existing[0].ID)
		return existing[0].ID, nil
	}

	authorID := root.AuthorID
	if authorID <= 0 {
		authorID = actor.UserID
	}
	pending := &model.Document{
		Type:          src.Type,
		Title:         src.Title,
		Body:          src.Body,
		Summary:       src.Summary,
		Slug:          util.CopySlug(src.Title, root.ID),
		ParentID:      root.ID,
		Status:        model.StatusPendingRepublish,
		AuthorID:      authorID,
		MenuOrder:     src.MenuOrder,
		CommentStatus: src.CommentStatus,
		Password:      src.Password,
	}
	if _, err := s.docs.Create(ctx, pending); err != nil {
		return 0, err
	}

	if err := s.populate(ctx, src, pending, root.ID); err != nil {
		if derr := s.deleteDocument(ctx, pending); derr != nil {
			s.logger.Error("removing incomplete pending update", "pending_id", pending.ID, "error", derr)
		}
		return 0, fmt.Errorf("creating update for %d: %w", root.ID, err)
	}

	s.timers.Cancel(hooks.PublishPost, pending.ID)

	event := hooks.PublishEvent{PendingID: pending.ID, OriginalID: root.ID}
	if err := s.hooks.Do(ctx, hooks.CreatePublishingPost, event); err != nil {
		s.logger.Warn("create hook failed", "pending_id", pending.ID, "error", err)
	}

	s.logger.Info("pending update created", "pending_id", pending.ID, "original_id", root.ID, "source_id", src.ID)
	return pending.ID, nil
}

func (s *Store) populate(ctx context.Context, src, pending *model.Document, rootID int64) error {
	if err := s.copier.attributes(ctx, src.ID, pending.ID, false); err != nil {
		return err
	}
	if err := s.copier.terms(ctx, src.ID, pending.ID); err != nil {
		return err
	}
	if failed := s.copier.integrate(ctx, src, pending, PhaseCreate); len(failed) > 0 {
		s.logger.Warn("auxiliary copy failed", "pending_id", pending.ID, "integrations", failed)
	}
	if err := s.docs.DeleteAttributes(ctx, pending.ID, []string{
		model.AttrScheduledAt, model.AttrKeepOriginalDates, model.AttrSwappedFrom,
	}); err != nil {
		return err
	}
	return s.docs.SetAttribute(ctx, pending.ID, model.AttrOriginalID, strconv.FormatInt(rootID, 10))
}

// Reschedule arms a pending update for at, replacing any earlier schedule.
// Instants not in the future are pushed to now plus the grace period.
// Returns the instant actually stored.
func (s *Store) Reschedule(ctx context.Context, actor auth.Actor, pendingID int64, at time.Time, keepDates bool) (time.Time, error) {
	pending, err := s.pendingDoc(ctx, pendingID)
	if err != nil {
		return time.Time{}, err
	}
	if pending.IsTrashed() {
		return time.Time{}, fmt.Errorf("pending update %d is trashed: %w", pendingID, model.ErrNotFound)
	}
	orig, err := s.originalOf(ctx, pending)
	if err != nil {
		return time.Time{}, err
	}
	if !s.authz.CanEdit(actor, orig) {
		return time.Time{}, fmt.Errorf("editing document %d: %w", orig.ID, model.ErrPermissionDenied)
	}

	at = s.norm.Clamp(at)

	s.timers.Cancel(hooks.PublishPost, pendingID)
	if err := s.docs.SetAttribute(ctx, pendingID, model.AttrScheduledAt, strconv.FormatInt(at.Unix(), 10)); err != nil {
		return time.Time{}, err
	}
	if keepDates {
		err = s.docs.SetAttribute(ctx, pendingID, model.AttrKeepOriginalDates, keepDatesYes)
	} else {
		err = s.docs.DeleteAttribute(ctx, pendingID, model.AttrKeepOriginalDates)
	}
	if err != nil {
		return time.Time{}, err
	}
	if err := s.timers.ScheduleOnce(hooks.PublishPost, at, pendingID); err != nil {
		return time.Time{}, err
	}

	if err := s.mirrorStock(ctx, orig.ID, pendingID); err != nil {
		s.logger.Warn("mirroring stock onto pending update", "pending_id", pendingID, "error", err)
	}

	s.logger.Info("pending update scheduled", "pending_id", pendingID, "original_id", orig.ID,
		"scheduled_at", at.Unix(), "keep_dates", keepDates)
	return at, nil
}

// mirrorStock shows the original's live stock on the pending copy.
func (s *Store) mirrorStock(ctx context.Context, origID, pendingID int64) error {
	attrs, err := s.docs.Attributes(ctx, origID)
	if err != nil {
		return err
	}
	return s.docs.SetAttributes(ctx, pendingID, pick(attrs, []string{model.AttrStockStatus, model.AttrStockQuantity}))
}

// Cancel clears the timer of a pending update and deletes it. Cancelling
// an update that no longer exists is a no-op.
func (s *Store) Cancel(ctx context.Context, actor auth.Actor, pendingID int64) error {
	pending, err := s.pendingDoc(ctx, pendingID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) && !s.exists(ctx, pendingID) {
			s.timers.Cancel(hooks.PublishPost, pendingID)
			return nil
		}
		return err
	}

	target := pending
	if orig, err := s.originalOf(ctx, pending); err == nil {
		target = orig
	}
	if !s.authz.CanEdit(actor, target) {
		return fmt.Errorf("editing document %d: %w", target.ID, model.ErrPermissionDenied)
	}

	release, err := s.locks.Acquire(ctx, lockKey(pendingID))
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return fmt.Errorf("cancelling %d: %w", pendingID, model.ErrAlreadyInProgress)
		}
		return err
	}
	defer release()

	// A firing may have merged the update before the lock was ours.
	pending, err = s.pendingDoc(ctx, pendingID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) && !s.exists(ctx, pendingID) {
			s.timers.Cancel(hooks.PublishPost, pendingID)
			return nil
		}
		return err
	}

	s.timers.Cancel(hooks.PublishPost, pendingID)
	if err := s.deleteDocument(ctx, pending); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	s.logger.Info("pending update cancelled", "pending_id", pendingID)
	return nil
}

func (s *Store) exists(ctx context.Context, id int64) bool {
	_, err := s.docs.Get(ctx, id)
	return err == nil
}

// deleteDocument hard-deletes a pending update and anything integrations
// hung off it.
func (s *Store) deleteDocument(ctx context.Context, doc *model.Document) error {
	for _, in := range s.copier.integrations {
		if c, ok := in.(Cleaner); ok {
			if err := c.Cleanup(ctx, doc); err != nil {
				s.logger.Warn("integration cleanup failed", "integration", in.Name(), "document_id", doc.ID, "error", err)
			}
		}
	}
	return s.docs.Delete(ctx, doc.ID, true)
}

// EnforceStatus is the transition_status filter keeping pending updates in
// their status. Only trashing may move a pending update out of it, and not
// while the update is firing.
func (s *Store) EnforceStatus(ctx context.Context, data any) (any, error) {
	t, ok := data.(*model.StatusTransition)
	if !ok || t == nil {
		return data, nil
	}
	if t.OldStatus == model.StatusPendingRepublish && t.NewStatus == model.StatusTrash && t.Document != nil {
		held, err := s.locks.Held(ctx, lockKey(t.Document.ID))
		if err != nil {
			return nil, err
		}
		if held {
			return nil, fmt.Errorf("trashing pending update %d: %w", t.Document.ID, model.ErrAlreadyInProgress)
		}
	}
	if t.OldStatus == model.StatusPendingRepublish && t.NewStatus != model.StatusTrash &&
		t.NewStatus != model.StatusPendingRepublish {
		id := int64(0)
		if t.Document != nil {
			id = t.Document.ID
		}
		s.logger.Debug("keeping pending update status", "document_id", id, "requested", t.NewStatus)
		t.NewStatus = model.StatusPendingRepublish
	}
	return t, nil
}

// OnTrash disarms a pending update moved to the trash.
func (s *Store) OnTrash(_ context.Context, data any) (any, error) {
	doc, ok := data.(*model.Document)
	if ok && doc != nil && doc.TrashedStatus == model.StatusPendingRepublish {
		if s.timers.Cancel(hooks.PublishPost, doc.ID) {
			s.logger.Info("pending update trashed, timer cleared", "pending_id", doc.ID)
		}
	}
	return data, nil
}

// OnRestore re-arms a pending update restored from the trash at its
// stored instant.
func (s *Store) OnRestore(ctx context.Context, data any) (any, error) {
	doc, ok := data.(*model.Document)
	if !ok || doc == nil || !doc.IsPendingUpdate() {
		return data, nil
	}

	raw, _, err := s.docs.Attribute(ctx, doc.ID, model.AttrScheduledAt)
	if err != nil {
		return nil, err
	}
	at, _ := strconv.ParseInt(raw, 10, 64)
	if at <= 0 {
		return data, nil
	}
	err = s.timers.ScheduleOnce(hooks.PublishPost, time.Unix(at, 0).UTC(), doc.ID)
	if err != nil && !errors.Is(err, timer.ErrAlreadyScheduled) {
		return nil, err
	}
	s.logger.Info("pending update restored, timer armed", "pending_id", doc.ID, "scheduled_at", at)
	return data, nil
}

// ListFilter narrows List.
type ListFilter struct {
	OriginalID int64
	Limit      int
}

// List returns pending updates ordered by scheduled instant. Updates being
// swapped right now are reported as firing.
func (s *Store) List(ctx context.Context, f ListFilter) ([]model.PendingSummary, error) {
	rows, err := s.docs.FindPending(ctx, store.PendingFilter{OriginalID: f.OriginalID, Limit: f.Limit})
	if err != nil {
		return nil, err
	}

	now := s.now().Unix()
	titles := make(map[int64]string)
	out := make([]model.PendingSummary, 0, len(rows))
	for _, r := range rows {
		title, ok := titles[r.OriginalID]
		if !ok && r.OriginalID > 0 {
			if orig, err := s.docs.Get(ctx, r.OriginalID); err == nil {
				title = orig.Title
			}
			titles[r.OriginalID] = title
		}

		firing, err := s.locks.Held(ctx, lockKey(r.ID))
		if err != nil {
			return nil, err
		}

		state := model.PendingScheduled
		switch {
		case firing:
			state = model.PendingFiring
		case r.ScheduledAt <= 0:
			state = model.PendingUnarmed
		case r.ScheduledAt <= now:
			state = model.PendingOverdue
		}

		out = append(out, model.PendingSummary{
			ID:            r.ID,
			Title:         r.Title,
			Type:          r.Type,
			OriginalID:    r.OriginalID,
			OriginalTitle: title,
			ScheduledAt:   r.ScheduledAt,
			KeepDates:     r.KeepDates == keepDatesYes,
			State:         state,
		})
	}
	return out, nil
}

// NextScheduledFor returns the earliest future instant at which an update
// of originalID is due, or 0.
func (s *Store) NextScheduledFor(ctx context.Context, originalID int64) (int64, error) {
	rows, err := s.docs.FindPending(ctx, store.PendingFilter{
		OriginalID: originalID,
		After:      s.now().Unix(),
		Limit:      1,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].ScheduledAt, nil
}
