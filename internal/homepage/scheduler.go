// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package homepage schedules switches of the site's static front page.
package homepage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/olegiv/content-update-scheduler/internal/auth"
	"github.com/olegiv/content-update-scheduler/internal/hooks"
	"github.com/olegiv/content-update-scheduler/internal/metrics"
	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/notify"
	"github.com/olegiv/content-update-scheduler/internal/stamp"
	"github.com/olegiv/content-update-scheduler/internal/store"
	"github.com/olegiv/content-update-scheduler/internal/timer"
)

// DefaultCatchUp is the delay used when re-arming a change whose instant
// passed while no timer was armed.
const DefaultCatchUp = 60 * time.Second

// Notifier receives homepage.changed events.
type Notifier interface {
	Dispatch(ctx context.Context, event *notify.Event) error
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Documents  *store.Documents
	Settings   *store.Settings
	Timers     *timer.Service
	Normalizer *stamp.Normalizer
	Notifier   Notifier
	Metrics    *metrics.Metrics
	// CatchUp delays overdue changes re-armed on activation.
	CatchUp time.Duration
	Logger  *slog.Logger
}

// Scheduler arms and fires homepage changes. The change list lives in the
// settings record so it survives restarts; timers do not.
type Scheduler struct {
	docs     *store.Documents
	settings *store.Settings
	timers   *timer.Service
	norm     *stamp.Normalizer
	notifier Notifier
	metrics  *metrics.Metrics
	authz    auth.Authorizer
	catchUp  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a homepage scheduler.
func New(d Deps) *Scheduler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catchUp := d.CatchUp
	if catchUp <= 0 {
		catchUp = DefaultCatchUp
	}
	return &Scheduler{
		docs:     d.Documents,
		settings: d.Settings,
		timers:   d.Timers,
		norm:     d.Normalizer,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		catchUp:  catchUp,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Scheduler) decode(raw string) []model.HomepageChange {
	if raw == "" {
		return nil
	}
	var changes []model.HomepageChange
	if err := json.Unmarshal([]byte(raw), &changes); err != nil {
		s.logger.Warn("ignoring malformed homepage change list", "category", model.EventCategoryHomepage, "error", err)
		return nil
	}
	valid := changes[:0]
	for _, c := range changes {
		if c.PageID > 0 && c.Timestamp > 0 {
			valid = append(valid, c)
		}
	}
	return valid
}

func encode(changes []model.HomepageChange) (string, error) {
	if changes == nil {
		changes = []model.HomepageChange{}
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return "", fmt.Errorf("encoding homepage changes: %w", err)
	}
	return string(data), nil
}

// update rewrites the change list inside one settings transaction.
func (s *Scheduler) update(ctx context.Context, fn func([]model.HomepageChange) ([]model.HomepageChange, map[string]string)) error {
	return s.settings.Update(ctx, model.SettingHomepageChanges, func(current string) (string, map[string]string, error) {
		next, also := fn(s.decode(current))
		raw, err := encode(next)
		if err != nil {
			return "", nil, err
		}
		return raw, also, nil
	})
}

func (s *Scheduler) page(ctx context.Context, pageID int64) (*model.Document, error) {
	doc, err := s.docs.Get(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if doc.Type != model.TypePage {
		return nil, fmt.Errorf("document %d is a %s, not a page: %w", pageID, doc.Type, model.ErrNotFound)
	}
	return doc, nil
}

// Schedule arms a switch of the front page to pageID at the given instant.
// Instants not in the future are pushed to now plus the grace period.
func (s *Scheduler) Schedule(ctx context.Context, actor auth.Actor, pageID int64, at time.Time) (model.HomepageChange, error) {
	if !s.authz.CanManageHomepage(actor) {
		return model.HomepageChange{}, fmt.Errorf("scheduling homepage change: %w", model.ErrPermissionDenied)
	}
	if _, err := s.page(ctx, pageID); err != nil {
		return model.HomepageChange{}, err
	}

	at = s.norm.Clamp(at)
	change := model.HomepageChange{PageID: pageID, Timestamp: at.Unix(), CreatedAt: s.now().Unix()}

	err := s.timers.ScheduleOnce(hooks.ChangeHomepage, at, pageID, change.Timestamp)
	if err != nil && !errors.Is(err, timer.ErrAlreadyScheduled) {
		return model.HomepageChange{}, err
	}
	armed := err == nil

	err = s.update(ctx, func(changes []model.HomepageChange) ([]model.HomepageChange, map[string]string) {
		for _, c := range changes {
			if c.PageID == pageID && c.Timestamp == change.Timestamp {
				change = c
				return changes, nil
			}
		}
		return append(changes, change), nil
	})
	if err != nil {
		// A timer armed before this call belongs to a stored change.
		if armed {
			s.timers.Cancel(hooks.ChangeHomepage, pageID, change.Timestamp)
		}
		return model.HomepageChange{}, err
	}

	s.logger.Info("homepage change scheduled", "page_id", pageID, "timestamp", change.Timestamp)
	return change, nil
}

// Cancel removes the change of pageID at ts together with its timer.
// Cancelling a change that does not exist is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, actor auth.Actor, pageID, ts int64) error {
	if !s.authz.CanManageHomepage(actor) {
		return fmt.Errorf("cancelling homepage change: %w", model.ErrPermissionDenied)
	}

	s.timers.Cancel(hooks.ChangeHomepage, pageID, ts)
	// Older timers were keyed by page only.
	if next, ok := s.timers.NextScheduled(hooks.ChangeHomepage, pageID); ok && next.Unix() == ts {
		s.timers.Cancel(hooks.ChangeHomepage, pageID)
	}

	err := s.update(ctx, func(changes []model.HomepageChange) ([]model.HomepageChange, map[string]string) {
		kept := changes[:0]
		for _, c := range changes {
			if c.PageID != pageID || c.Timestamp != ts {
				kept = append(kept, c)
			}
		}
		return kept, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("homepage change cancelled", "page_id", pageID, "timestamp", ts)
	return nil
}

// Fire switches the front page to pageID and removes the change at ts, or
// every change of the page when ts is 0. A page that is gone, not a page,
// or not published is skipped and its entry left in place. Reports whether
// the front page changed.
func (s *Scheduler) Fire(ctx context.Context, pageID, ts int64) (bool, error) {
	doc, err := s.page(ctx, pageID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.dropped(pageID, ts, "page missing")
			return false, nil
		}
		return false, err
	}
	if doc.Status != model.StatusPublish && doc.Status != model.StatusPendingRepublish {
		s.dropped(pageID, ts, "page not published")
		return false, nil
	}

	front := map[string]string{
		model.SettingShowOnFront: model.ShowOnFrontPage,
		model.SettingPageOnFront: strconv.FormatInt(pageID, 10),
	}
	err = s.update(ctx, func(changes []model.HomepageChange) ([]model.HomepageChange, map[string]string) {
		kept := changes[:0]
		for _, c := range changes {
			if c.PageID == pageID && (ts == 0 || c.Timestamp == ts) {
				continue
			}
			kept = append(kept, c)
		}
		return kept, front
	})
	if err != nil {
		return false, fmt.Errorf("changing homepage to %d: %w", pageID, err)
	}

	s.metrics.HomepageChange(metrics.ResultChanged)
	if s.notifier != nil {
		event := notify.NewEvent(notify.EventHomepageChanged, notify.HomepageData{PageID: pageID, Timestamp: ts})
		if err := s.notifier.Dispatch(ctx, event); err != nil {
			s.logger.Warn("dispatching notification", "type", event.Type, "error", err)
		}
	}
	s.logger.Info("homepage changed", "page_id", pageID, "timestamp", ts)
	return true, nil
}

func (s *Scheduler) dropped(pageID, ts int64, reason string) {
	s.metrics.HomepageChange(metrics.ResultDropped)
	s.logger.Info("homepage change skipped", "page_id", pageID, "timestamp", ts, "reason", reason)
}

// List returns the stored changes ordered by timestamp. Overdue changes
// are kept; a missed timer may still fire them after recovery.
func (s *Scheduler) List(ctx context.Context) ([]model.HomepageChange, error) {
	raw, _, err := s.settings.Get(ctx, model.SettingHomepageChanges)
	if err != nil {
		return nil, err
	}
	changes := s.decode(raw)
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Timestamp < changes[j].Timestamp })
	if changes == nil {
		changes = []model.HomepageChange{}
	}
	return changes, nil
}

// OnTimer is the change_homepage handler. It accepts Args{pageID, ts} and
// the older Args{pageID}.
func (s *Scheduler) OnTimer(ctx context.Context, data any) (any, error) {
	args, ok := data.(hooks.Args)
	if !ok || len(args) == 0 {
		s.logger.Warn("homepage timer without page id", "data", data)
		return data, nil
	}
	var ts int64
	if len(args) > 1 {
		ts = args[1]
	}
	if _, err := s.Fire(ctx, args[0], ts); err != nil {
		s.logger.Error("scheduled homepage change failed", "page_id", args[0], "timestamp", ts,
			"category", model.EventCategoryHomepage, "error", err)
	}
	return data, nil
}

// Rearm arms a timer for every stored change that has none. Timers keyed
// by page only are replaced by page and timestamp keys. Overdue changes
// fire after the catch-up delay. Returns the number of timers armed.
func (s *Scheduler) Rearm(ctx context.Context) (int, error) {
	changes, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	armed := 0
	for _, c := range changes {
		if next, ok := s.timers.NextScheduled(hooks.ChangeHomepage, c.PageID); ok && next.Unix() == c.Timestamp {
			s.timers.Cancel(hooks.ChangeHomepage, c.PageID)
		}
		if _, ok := s.timers.NextScheduled(hooks.ChangeHomepage, c.PageID, c.Timestamp); ok {
			continue
		}

		runAt := time.Unix(c.Timestamp, 0).UTC()
		if !runAt.After(now) {
			runAt = now.Add(s.catchUp)
		}
		err := s.timers.ScheduleOnce(hooks.ChangeHomepage, runAt, c.PageID, c.Timestamp)
		if err != nil && !errors.Is(err, timer.ErrAlreadyScheduled) {
			return armed, err
		}
		if err == nil {
			armed++
		}
	}
	return armed, nil
}

// Disarm clears every homepage timer. Stored changes are kept.
func (s *Scheduler) Disarm(context.Context) (int, error) {
	return s.timers.ClearHook(hooks.ChangeHomepage), nil
}

// Purge deletes the stored change list.
func (s *Scheduler) Purge(ctx context.Context) error {
	return s.settings.Delete(ctx, model.SettingHomepageChanges)
}
