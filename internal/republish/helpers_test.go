// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package republish_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/content-update-scheduler/internal/auth"
	"github.com/olegiv/content-update-scheduler/internal/cache"
	"github.com/olegiv/content-update-scheduler/internal/config"
	"github.com/olegiv/content-update-scheduler/internal/hooks"
	"github.com/olegiv/content-update-scheduler/internal/lock"
	"github.com/olegiv/content-update-scheduler/internal/metrics"
	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/notify"
	"github.com/olegiv/content-update-scheduler/internal/republish"
	"github.com/olegiv/content-update-scheduler/internal/stamp"
	"github.com/olegiv/content-update-scheduler/internal/store"
	"github.com/olegiv/content-update-scheduler/internal/testutil"
	"github.com/olegiv/content-update-scheduler/internal/timer"
	"github.com/olegiv/content-update-scheduler/internal/util"
)

const grace = 5 * time.Minute

type recordingNotifier struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (n *recordingNotifier) Dispatch(_ context.Context, event *notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	ctx      context.Context
	db       *sqlx.DB
	docs     *store.Documents
	settings *store.Settings
	registry *hooks.Registry
	timers   *timer.Service
	clock    *testutil.Clock
	metrics  *metrics.Metrics
	notifier *recordingNotifier
	uploads  string

	store    *republish.Store
	engine   *republish.Engine
	sweeper  *republish.Sweeper
	recovery *republish.Recovery
}

type harnessOption func(*config.Integrations)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	db, cleanup := testutil.TestDB(t)
	t.Cleanup(cleanup)

	logger := testutil.TestLoggerSilent()
	clock := testutil.NewClock(time.Now().UTC().Truncate(time.Second))
	registry := hooks.NewRegistry(logger)

	docs := store.NewDocuments(db, registry)
	docs.SetClock(clock.Now)

	timers := timer.New(registry, logger)
	timers.SetClock(clock.Now)
	t.Cleanup(timers.Stop)

	mem := cache.NewMemoryCache(cache.MemoryCacheOptions{})
	t.Cleanup(func() { _ = mem.Close() })

	norm := stamp.New(time.UTC, grace)
	norm.SetClock(clock.Now)

	uploads := t.TempDir()
	integrations := config.DefaultIntegrations()
	integrations.Builder.UploadsDir = uploads
	for _, opt := range opts {
		opt(&integrations)
	}

	deps := republish.Deps{
		Documents:     docs,
		Timers:        timers,
		Locks:         lock.New(mem, time.Minute, logger),
		Normalizer:    norm,
		Hooks:         registry,
		Integrations:  republish.NewIntegrations(integrations, docs, logger),
		ExcludedTypes: integrations.ExcludedTypes,
		Logger:        logger,
	}

	h := &harness{
		ctx:      context.Background(),
		db:       db,
		docs:     docs,
		settings: store.NewSettings(db),
		registry: registry,
		timers:   timers,
		clock:    clock,
		metrics:  metrics.New(),
		notifier: &recordingNotifier{},
		uploads:  uploads,
	}

	h.store = republish.NewStore(deps)
	h.store.SetClock(clock.Now)
	h.engine = republish.NewEngine(deps, h.store, h.notifier, h.metrics)
	h.engine.SetClock(clock.Now)
	h.sweeper = republish.NewSweeper(deps, h.engine, 0, h.metrics)
	h.sweeper.SetClock(clock.Now)
	h.recovery = republish.NewRecovery(deps, h.store, h.engine, h.settings, nil, "")
	h.recovery.SetClock(clock.Now)

	registry.RegisterFunc(hooks.TransitionStatus, "enforce-status", "republish", h.store.EnforceStatus)
	registry.RegisterFunc(hooks.Trashed, "disarm", "republish", h.store.OnTrash)
	registry.RegisterFunc(hooks.Untrashed, "rearm", "republish", h.store.OnRestore)
	registry.RegisterFunc(hooks.PublishPost, "publish", "republish", h.engine.OnTimer)
	registry.RegisterFunc(hooks.CheckOverdue, "sweep", "republish", h.sweeper.OnTimer)

	return h
}

func withExcluded(types ...string) harnessOption {
	return func(i *config.Integrations) { i.ExcludedTypes = types }
}

// original creates a published post with attributes and category terms.
func (h *harness) original(t *testing.T, title string, attrs model.Attributes, terms map[string][]int64) int64 {
	t.Helper()
	return testutil.CreateDocument(t, h.docs, model.Document{
		Type:     model.TypePost,
		Title:    title,
		Body:     title + " body",
		Slug:     util.Slugify(title),
		Status:   model.StatusPublish,
		AuthorID: 7,
	}, attrs, terms)
}

// pendingFor creates a pending update of origID as the system actor.
func (h *harness) pendingFor(t *testing.T, origID int64) int64 {
	t.Helper()
	id, err := h.store.Create(h.ctx, auth.System, origID)
	require.NoError(t, err)
	return id
}

// edit changes the title and body of a document.
func (h *harness) edit(t *testing.T, id int64, title string) {
	t.Helper()
	doc, err := h.docs.Get(h.ctx, id)
	require.NoError(t, err)
	doc.Title = title
	doc.Body = title + " body"
	require.NoError(t, h.docs.Update(h.ctx, doc))
}

// due stores a scheduled instant directly, bypassing the past-date policy.
func (h *harness) due(t *testing.T, id int64, at time.Time) {
	t.Helper()
	require.NoError(t, h.docs.SetAttribute(h.ctx, id, model.AttrScheduledAt, strconv.FormatInt(at.Unix(), 10)))
}

func (h *harness) attrs(t *testing.T, id int64) model.Attributes {
	t.Helper()
	attrs, err := h.docs.Attributes(h.ctx, id)
	require.NoError(t, err)
	return attrs
}

func (h *harness) terms(t *testing.T, id int64, taxonomy string) []int64 {
	t.Helper()
	ids, err := h.docs.Terms(h.ctx, id, taxonomy)
	require.NoError(t, err)
	return ids
}

func (h *harness) exists(id int64) bool {
	_, err := h.docs.Get(h.ctx, id)
	return err == nil
}

func (h *harness) armed(id int64) (time.Time, bool) {
	return h.timers.NextScheduled(hooks.PublishPost, id)
}

func (h *harness) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
