// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package republish_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/content-update-scheduler/internal/hooks"
	"github.com/olegiv/content-update-scheduler/internal/republish"
)

func TestSweepFiresOverdueUpdates(t *testing.T) {
	h := newHarness(t)

	dueOrig := h.original(t, "Due", nil, nil)
	due := h.pendingFor(t, dueOrig)
	h.edit(t, due, "Due updated")
	h.due(t, due, h.clock.Now().Add(-10*time.Minute))

	orphanOrig := h.original(t, "Orphan", nil, nil)
	orphan := h.pendingFor(t, orphanOrig)
	h.due(t, orphan, h.clock.Now().Add(-5*time.Minute))
	require.NoError(t, h.docs.Delete(h.ctx, orphanOrig, true))

	futureOrig := h.original(t, "Future", nil, nil)
	future := h.pendingFor(t, futureOrig)
	h.due(t, future, h.clock.Now().Add(time.Hour))

	res, err := h.sweeper.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, republish.SweepResult{Fired: 1, Failed: 1}, res)

	assert.False(t, h.exists(due))
	orig, err := h.docs.Get(h.ctx, dueOrig)
	require.NoError(t, err)
	assert.Equal(t, "Due updated", orig.Title)

	assert.True(t, h.exists(orphan), "a failing update does not stop the batch and stays pending")
	assert.True(t, h.exists(future))

	body := h.scrape(t)
	assert.Contains(t, body, "cus_sweeps_total 1")
	assert.Contains(t, body, `cus_sweep_items_total{outcome="fired"} 1`)
	assert.Contains(t, body, `cus_sweep_items_total{outcome="failed"} 1`)
}

func TestSweepSkipsLockedUpdates(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Busy", nil, nil)
	id := h.pendingFor(t, origID)
	h.due(t, id, h.clock.Now().Add(-time.Minute))

	// Hold the firing lock the way a concurrent publisher would.
	started := make(chan struct{})
	release := make(chan struct{})
	h.registry.RegisterFunc(hooks.BeforePublish, "block", "test", func(_ context.Context, data any) (any, error) {
		close(started)
		<-release
		return data, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.Publish(h.ctx, id)
		done <- err
	}()
	<-started

	res, err := h.sweeper.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, republish.SweepResult{Skipped: 1}, res)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, h.exists(id))
}

func TestSweepWithNothingDue(t *testing.T) {
	h := newHarness(t)
	origID := h.original(t, "Idle", nil, nil)
	h.pendingFor(t, origID)

	res, err := h.sweeper.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, republish.SweepResult{}, res)
}
