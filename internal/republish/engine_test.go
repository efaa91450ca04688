// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package republish_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/content-update-scheduler/internal/auth"
	"github.com/olegiv/content-update-scheduler/internal/config"
	"github.com/olegiv/content-update-scheduler/internal/hooks"
	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/notify"
	"github.com/olegiv/content-update-scheduler/internal/republish"
)

func TestFireNowBeforeScheduledInstant(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Old title", model.Attributes{"color": "red"},
		map[string][]int64{"category": {1, 2}})
	before, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)

	id := h.pendingFor(t, origID)
	h.edit(t, id, "New title")
	require.NoError(t, h.docs.SetAttributes(h.ctx, id, model.Attributes{
		"color":   "blue",
		"related": fmt.Sprintf("%d,99", id),
	}))
	require.NoError(t, h.docs.SetTerms(h.ctx, id, "category", []int64{5}))
	require.NoError(t, h.docs.SetTerms(h.ctx, id, "tag", []int64{8}))
	_, err = h.store.Reschedule(h.ctx, auth.System, id, h.clock.Now().Add(24*time.Hour), false)
	require.NoError(t, err)

	got, err := h.engine.FireNow(h.ctx, auth.System, id)
	require.NoError(t, err)
	assert.Equal(t, origID, got)

	after, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, "New title", after.Title)
	assert.Equal(t, "New title body", after.Body)
	assert.Equal(t, model.StatusPublish, after.Status)
	assert.Equal(t, before.Slug, after.Slug)
	assert.Equal(t, before.ParentID, after.ParentID)
	assert.Equal(t, before.GUID, after.GUID)

	attrs := h.attrs(t, origID)
	assert.Equal(t, "blue", attrs["color"])
	assert.Equal(t, fmt.Sprintf("%d,99", origID), attrs["related"], "self references follow the original")
	for _, key := range append([]string{model.AttrSwappedFrom}, model.SchedulingAttrs...) {
		assert.False(t, attrs.Has(key), key)
	}
	assert.Equal(t, []int64{5}, h.terms(t, origID, "category"))
	assert.Equal(t, []int64{8}, h.terms(t, origID, "tag"))

	assert.False(t, h.exists(id))
	_, armed := h.armed(id)
	assert.False(t, armed)

	assert.Equal(t, []string{notify.EventRepublishPublished}, h.notifier.types())
	assert.Contains(t, h.scrape(t), `cus_swaps_total{result="merged"} 1`)
}

func TestPublishStampsDates(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Dated", nil, nil)
	created, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)

	id := h.pendingFor(t, origID)
	h.clock.Advance(time.Hour)
	_, err = h.engine.Publish(h.ctx, id)
	require.NoError(t, err)

	after, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)
	assert.True(t, after.CreatedAt.Equal(h.clock.Now()), "publish date moves to the firing instant")
	assert.True(t, after.ModifiedAt.Equal(h.clock.Now()))
	assert.False(t, after.CreatedAt.Equal(created.CreatedAt))
}

func TestPublishKeepsOriginalDates(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Kept", nil, nil)
	created, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)

	id := h.pendingFor(t, origID)
	_, err = h.store.Reschedule(h.ctx, auth.System, id, h.clock.Now().Add(time.Hour), true)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	_, err = h.engine.Publish(h.ctx, id)
	require.NoError(t, err)

	after, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)
	assert.True(t, after.CreatedAt.Equal(created.CreatedAt))
	assert.True(t, after.ModifiedAt.Equal(h.clock.Now()))
}

func TestPublishDateFilter(t *testing.T) {
	h := newHarness(t)
	fixed := time.Date(2031, 3, 4, 5, 6, 0, 0, time.UTC)
	h.registry.RegisterFunc(hooks.PublishDate, "fixed", "test", func(_ context.Context, data any) (any, error) {
		req := data.(*republish.PublishDateRequest)
		req.Date = fixed
		return req, nil
	})

	origID := h.original(t, "Filtered", nil, nil)
	id := h.pendingFor(t, origID)
	_, err := h.engine.Publish(h.ctx, id)
	require.NoError(t, err)

	after, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)
	assert.True(t, after.CreatedAt.Equal(fixed))
}

func TestPublishKeepsLiveStock(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Stock", model.Attributes{model.AttrStockQuantity: "5"}, nil)
	id := h.pendingFor(t, origID)
	require.NoError(t, h.docs.SetAttributes(h.ctx, id, model.Attributes{
		model.AttrStockQuantity: "9",
		model.AttrStockStatus:   "outofstock",
	}))

	_, err := h.engine.Publish(h.ctx, id)
	require.NoError(t, err)

	attrs := h.attrs(t, origID)
	assert.Equal(t, "5", attrs[model.AttrStockQuantity])
	assert.False(t, attrs.Has(model.AttrStockStatus))
}

func TestPublishFiresHooks(t *testing.T) {
	h := newHarness(t)
	var events []string
	record := func(name string) func(context.Context, any) (any, error) {
		return func(_ context.Context, data any) (any, error) {
			ev := data.(hooks.PublishEvent)
			events = append(events, fmt.Sprintf("%s:%d", name, ev.PendingID))
			return data, nil
		}
	}
	h.registry.RegisterFunc(hooks.BeforePublish, "before", "test", record("before"))
	h.registry.RegisterFunc(hooks.AfterPublish, "after", "test", record("after"))

	origID := h.original(t, "Hooked", nil, nil)
	id := h.pendingFor(t, origID)
	_, err := h.engine.Publish(h.ctx, id)
	require.NoError(t, err)

	assert.Equal(t, []string{fmt.Sprintf("before:%d", id), fmt.Sprintf("after:%d", id)}, events)
}

func TestPublishRollsBackWhenPersistFails(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Stable", model.Attributes{"color": "red", "size": "L"},
		map[string][]int64{"category": {1, 2}})
	before, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)
	attrsBefore := h.attrs(t, origID)

	id := h.pendingFor(t, origID)
	h.edit(t, id, "Broken")
	require.NoError(t, h.docs.SetAttributes(h.ctx, id, model.Attributes{"color": "green", "extra": "1"}))
	require.NoError(t, h.docs.SetTerms(h.ctx, id, "category", []int64{9}))
	require.NoError(t, h.docs.SetTerms(h.ctx, id, "tag", []int64{4}))

	_, err = h.db.Exec(`CREATE TRIGGER fail_title BEFORE UPDATE OF title ON documents
		WHEN NEW.title = 'Broken' BEGIN SELECT RAISE(ABORT, 'simulated failure'); END`)
	require.NoError(t, err)

	_, err = h.engine.Publish(h.ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSwapFailed)
	assert.Equal(t, model.KindSwapFailed, model.ErrorKind(err))

	after, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, before.Title, after.Title)
	assert.Equal(t, before.Body, after.Body)
	assert.Equal(t, before.AuthorID, after.AuthorID)
	assert.True(t, before.CreatedAt.Equal(after.CreatedAt))
	assert.True(t, before.ModifiedAt.Equal(after.ModifiedAt))
	assert.Equal(t, attrsBefore, h.attrs(t, origID))
	assert.Equal(t, []int64{1, 2}, h.terms(t, origID, "category"))
	assert.Empty(t, h.terms(t, origID, "tag"))

	pending, err := h.docs.Get(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingRepublish, pending.Status)

	assert.Equal(t, []string{notify.EventRepublishFailed}, h.notifier.types())
	assert.Contains(t, h.scrape(t), `cus_swaps_total{result="rolled_back"} 1`)
}

func TestPublishRollsBackWhenCleanupFails(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Original", model.Attributes{"color": "red"}, nil)
	attrsBefore := h.attrs(t, origID)

	id := h.pendingFor(t, origID)
	h.edit(t, id, "Replacement")

	_, err := h.db.Exec(fmt.Sprintf(`CREATE TRIGGER keep_pending BEFORE DELETE ON documents
		WHEN OLD.id = %d BEGIN SELECT RAISE(ABORT, 'simulated failure'); END`, id))
	require.NoError(t, err)

	_, err = h.engine.Publish(h.ctx, id)
	assert.ErrorIs(t, err, model.ErrSwapFailed)

	after, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, "Original", after.Title)
	assert.Equal(t, attrsBefore, h.attrs(t, origID), "swap marker is rolled back too")
	assert.True(t, h.exists(id))
}

func TestPublishCompletesInterruptedSwap(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Already swapped", nil, nil)
	id := h.pendingFor(t, origID)
	require.NoError(t, h.docs.SetAttribute(h.ctx, origID, model.AttrSwappedFrom, strconv.FormatInt(id, 10)))

	got, err := h.engine.Publish(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, origID, got)
	assert.False(t, h.exists(id))
	assert.False(t, h.attrs(t, origID).Has(model.AttrSwappedFrom))
}

func TestConcurrentPublishMergesOnce(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Race", nil, nil)
	id := h.pendingFor(t, origID)
	h.edit(t, id, "Race winner")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.Publish(h.ctx, id)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		kind := model.ErrorKind(err)
		assert.Contains(t, []string{model.KindAlreadyInProgress, model.KindNotFound}, kind, err.Error())
	}
	assert.Equal(t, 1, succeeded)

	after, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, "Race winner", after.Title)
	assert.Len(t, h.notifier.types(), 1)
}

func TestPublishWithoutOriginal(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Orphan", nil, nil)
	id := h.pendingFor(t, origID)
	require.NoError(t, h.docs.Delete(h.ctx, origID, true))

	_, err := h.engine.Publish(h.ctx, id)
	assert.ErrorIs(t, err, model.ErrNoOriginal)
	assert.Equal(t, model.KindNoOriginal, model.ErrorKind(err))
	assert.True(t, h.exists(id), "the update is left for an operator")

	_, err = h.engine.Publish(h.ctx, 424242)
	assert.Equal(t, model.KindNotFound, model.ErrorKind(err))
}

func TestFireNowChecksPermission(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Guarded", nil, nil)
	id := h.pendingFor(t, origID)

	_, err := h.engine.FireNow(h.ctx, auth.Actor{UserID: 1, Role: config.RoleViewer}, id)
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
	assert.True(t, h.exists(id))
}

func TestTimerFiresPublish(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Before timer", nil, nil)
	id := h.pendingFor(t, origID)
	h.edit(t, id, "After timer")

	_, err := h.store.Reschedule(h.ctx, auth.System, id, h.clock.Now().Add(time.Second), false)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !h.exists(id) }, 5*time.Second, 20*time.Millisecond)
	after, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, "After timer", after.Title)
}

func TestCancelDuringFiringIsRejected(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Live", nil, map[string][]int64{"category": {1, 2}})
	id := h.pendingFor(t, origID)
	h.edit(t, id, "Draft edit")

	var cancelErr error
	var state model.PendingState
	h.registry.RegisterFunc(hooks.BeforePublish, "cancel", "test", func(ctx context.Context, data any) (any, error) {
		cancelErr = h.store.Cancel(ctx, auth.System, id)
		if rows, err := h.store.List(ctx, republish.ListFilter{OriginalID: origID}); err == nil && len(rows) == 1 {
			state = rows[0].State
		}
		return data, nil
	})

	got, err := h.engine.Publish(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, origID, got)
	assert.ErrorIs(t, cancelErr, model.ErrAlreadyInProgress)
	assert.Equal(t, model.PendingFiring, state)

	after, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, "Draft edit", after.Title)
	assert.Equal(t, []int64{1, 2}, h.terms(t, origID, "category"))
	assert.False(t, h.exists(id))

	// Once merged, cancelling is a no-op.
	assert.NoError(t, h.store.Cancel(h.ctx, auth.System, id))
}

func TestTrashDuringFiringIsRejected(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Live", nil, map[string][]int64{"category": {1, 2}})
	id := h.pendingFor(t, origID)
	h.edit(t, id, "Draft edit")

	var trashErr error
	h.registry.RegisterFunc(hooks.BeforePublish, "trash", "test", func(ctx context.Context, data any) (any, error) {
		trashErr = h.docs.Trash(ctx, id)
		return data, nil
	})

	_, err := h.engine.Publish(h.ctx, id)
	require.NoError(t, err)
	assert.ErrorIs(t, trashErr, model.ErrAlreadyInProgress)

	after, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, "Draft edit", after.Title)
	assert.Equal(t, []int64{1, 2}, h.terms(t, origID, "category"))
}

func TestTrashPendingWhenIdle(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Live", nil, nil)
	id := h.pendingFor(t, origID)

	require.NoError(t, h.docs.Trash(h.ctx, id))
	doc, err := h.docs.Get(h.ctx, id)
	require.NoError(t, err)
	assert.True(t, doc.IsTrashed())
}

func TestPublishRollsBackWhenUpdateWithdrawn(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Live", model.Attributes{"color": "red"},
		map[string][]int64{"category": {1, 2}})
	id := h.pendingFor(t, origID)
	h.edit(t, id, "Draft edit")

	// Removes the row without going through the store, so no lock is taken.
	h.registry.RegisterFunc(hooks.BeforePublish, "withdraw", "test", func(ctx context.Context, data any) (any, error) {
		return data, h.docs.Delete(ctx, id, true)
	})

	_, err := h.engine.Publish(h.ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSwapFailed)
	assert.ErrorIs(t, err, model.ErrNotFound)

	after, err := h.docs.Get(h.ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, "Live", after.Title)
	assert.Equal(t, "red", h.attrs(t, origID)["color"])
	assert.Equal(t, []int64{1, 2}, h.terms(t, origID, "category"))
	assert.False(t, h.attrs(t, origID).Has(model.AttrSwappedFrom))
}
